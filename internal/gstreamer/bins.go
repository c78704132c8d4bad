package gstreamer

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/stream-publish/internal/pipeline"
)

// FanoutElement is the name of the distribution element inside the source
// bin from which branch output ports are requested.
const FanoutElement = "tee"

// ingestElement is the name of the appsrc inside the source bin.
const ingestElement = "ingest"

// SourceConfig parameterizes the source subgraph.
type SourceConfig struct {
	Width     int
	Height    int
	FrameRate int
}

// NetworkConfig parameterizes the RTMP transmission subgraph.
type NetworkConfig struct {
	// Location is the RTMP destination address; its last path segment names
	// the logical stream.
	Location string
	// BitrateKbps is the encoder target bitrate in kbit/s.
	BitrateKbps int
	// SpeedPreset is the x264 speed/quality trade-off, e.g. "ultrafast".
	SpeedPreset string
}

// NewSourceBin builds the source subgraph: a live appsrc accepting raw RGB
// frames, format normalization stages, and a terminating fan-out element.
//
// The bin is returned together with its ingest point. Boundary ports are
// not created here; they are exposed per attach from fan-out request pads.
func NewSourceBin(cfg SourceConfig) (pipeline.Bin, pipeline.Ingest, error) {
	gst.Init(nil)

	desc := fmt.Sprintf(
		"appsrc name=%s is-live=true block=true format=time "+
			"caps=video/x-raw,format=RGB,framerate=%d/1,width=%d,height=%d "+
			"! videoconvert name=convert ! videoscale name=scale "+
			"! videorate name=rate ! video/x-raw,framerate=%d/1 "+
			"! tee name=%s",
		ingestElement, cfg.FrameRate, cfg.Width, cfg.Height, cfg.FrameRate, FanoutElement,
	)

	bin, err := gst.NewBinFromString(desc, false)
	if err != nil {
		return nil, nil, fmt.Errorf("gstreamer: failed to build source bin: %w", err)
	}

	srcElem, err := bin.GetElementByName(ingestElement)
	if err != nil || srcElem == nil {
		return nil, nil, fmt.Errorf("gstreamer: source bin has no ingest element: %w", err)
	}

	return &binHandle{bin: bin}, newIngest(srcElem), nil
}

// NewNetworkBin builds the RTMP transmission branch: H.264 encode, FLV mux
// and an RTMP sink. The bin exposes one "sink" boundary port.
func NewNetworkBin(cfg NetworkConfig) (pipeline.Bin, error) {
	gst.Init(nil)

	desc := fmt.Sprintf(
		"x264enc name=encoder tune=zerolatency speed-preset=%s bitrate=%d "+
			"! queue name=network_queue ! flvmux name=mux streamable=true "+
			"! rtmp2sink name=network_sink location=%s",
		cfg.SpeedPreset, cfg.BitrateKbps, cfg.Location,
	)

	bin, err := gst.NewBinFromString(desc, true)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to build network bin: %w", err)
	}
	return &binHandle{bin: bin}, nil
}

// NewDisplayBin builds the local-display branch: a queue feeding an
// auto-selected video sink. The bin exposes one "sink" boundary port.
func NewDisplayBin() (pipeline.Bin, error) {
	gst.Init(nil)

	bin, err := gst.NewBinFromString(
		"queue name=display_queue ! autovideosink name=display_sink", true,
	)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to build display bin: %w", err)
	}
	return &binHandle{bin: bin}, nil
}

// Available verifies that the GStreamer runtime is usable, by creating and
// discarding a trivial element. Fail-fast check for constructors.
func Available() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("gstreamer: runtime not available: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}
