// Package streampublish publishes application-produced video frames to an
// RTMP endpoint and a local display at the same time, using GStreamer.
//
// The module is the publish-side counterpart of stream-capture: instead of
// pulling frames out of a pipeline, it pushes frames into one. The core of
// the module is runtime reconfiguration of a live graph: either output
// branch can be attached or detached at any moment without interrupting the
// other branch or losing frames already in flight.
//
// # Quick Start
//
//	cfg := streampublish.Config{
//	    Width:   1024,
//	    Height:  1024,
//	    RTMPURL: "rtmp://ome.example.org/app/name-your-stream",
//	}
//
//	pub, err := streampublish.NewRTMPPublisher(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pub.Close()
//
//	if err := pub.StartStream(); err != nil {
//	    log.Fatal(err)
//	}
//
//	for frame := range source {
//	    err := pub.SendFrame(frame)
//	    if errors.Is(err, streampublish.ErrNotReady) {
//	        continue // flow control: drop and send the next frame
//	    }
//	    if err != nil {
//	        log.Printf("send failed: %v", err)
//	    }
//	}
//
// # Graph Topology
//
// One source subgraph accepts raw frames through a live appsrc, normalizes
// format/size/rate, and ends in a tee. Each output branch is an independent
// bin with a single sink port:
//
//	appsrc → videoconvert → videoscale → videorate → tee ─┬→ x264enc → queue → flvmux → rtmp2sink
//	                                                      └→ queue → autovideosink
//
// Attaching a branch requests a fresh tee output pad, exposes it on the
// source-bin boundary and links it to the branch sink, all while the rest
// of the graph keeps flowing. Detaching reverses those steps and hands the
// branch back for later re-attachment. Branches are controlled
// independently: stopping the RTMP branch never stalls the local display.
//
// # Flow Control
//
// The graph signals readiness through need-data/enough-data callbacks that
// flip a level-triggered demand flag. SendFrame and SendRaw re-check the
// flag on every call and return ErrNotReady instead of blocking when the
// graph is saturated. Drop the frame and try the next one; for producers
// that prefer a short paced wait, SendRawWhenReady retries with bounded
// backoff.
//
// # Frame Format
//
// SendFrame accepts interleaved BGR (3 channels) or BGRA (4 channels) and
// normalizes to the packed RGB layout the graph negotiates. Any other
// channel count is rejected with ErrUnsupportedFormat. SendRaw bypasses
// normalization for payloads already in RGB.
//
// Every accepted frame is stamped with a presentation timestamp measured
// from the instant the graph first went active, and a fixed duration of
// one frame interval (1/FrameRate seconds).
//
// # Diagnostics
//
// Fatal runtime errors and end-of-stream arrive on a polling channel:
// WaitEvent for one-shot polls, Monitor for a background loop that
// classifies errors (network / codec / unknown) for telemetry and returns
// when the graph is terminally broken. Both event kinds are terminal; the
// embedding application decides how to shut down. Per-frame and
// per-reconfiguration failures, by contrast, are ordinary return values
// and never crash the process.
//
// # Control Surface
//
// RunControlLoop drives a publisher from line-oriented commands
// (start_stream, stop_rtmp_stream, debug, quit, ...) read from any
// io.Reader, typically stdin of the test tool in cmd/test-publish.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Frame submission, branch
// attach/detach and diagnostics may run on independent goroutines;
// submission and reconfiguration are serialized internally so a frame
// never observes a half-linked topology.
//
// # Dependencies
//
// GStreamer 1.x must be installed on the system:
//
//	# Ubuntu/Debian
//	sudo apt-get install \
//	    gstreamer1.0-tools \
//	    gstreamer1.0-plugins-base \
//	    gstreamer1.0-plugins-good \
//	    gstreamer1.0-plugins-bad \
//	    gstreamer1.0-plugins-ugly \
//	    gstreamer1.0-libav
//
// The network branch needs x264enc (plugins-ugly) and rtmp2sink
// (plugins-bad); the display branch uses autovideosink.
//
// # Limitations
//
//   - RTMP only (no SRT, WebRTC or file outputs)
//   - RGB input only after normalization (no YUV passthrough)
//   - one network and one display branch per publisher instance
//   - frame rate fixed at construction (1-60 fps)
package streampublish
