package streampublish

import "time"

// BranchKind identifies the two attachable output branches.
type BranchKind int

const (
	// BranchNetwork is the RTMP transmission branch.
	BranchNetwork BranchKind = iota
	// BranchDisplay is the local-display branch.
	BranchDisplay
)

// String returns the branch's stable name.
func (k BranchKind) String() string {
	switch k {
	case BranchNetwork:
		return "network"
	case BranchDisplay:
		return "display"
	default:
		return "unknown"
	}
}

// Frame is a structured input frame with explicit pixel metadata.
//
// Data is interleaved with Channels bytes per pixel in BGR order (BGRA for
// four channels), the layout capture devices commonly deliver. SendFrame
// normalizes it to the graph's negotiated packed RGB layout; channel counts
// outside {3, 4} are rejected.
type Frame struct {
	// Data contains the interleaved pixel bytes, Width*Height*Channels long.
	Data []byte
	// Width in pixels.
	Width int
	// Height in pixels.
	Height int
	// Channels per pixel: 3 (BGR) or 4 (BGRA).
	Channels int
}

// Config contains construction parameters for an RTMPPublisher.
type Config struct {
	// Width is the configured frame width in pixels (required).
	Width int
	// Height is the configured frame height in pixels (required).
	Height int
	// RTMPURL is the network destination address. Must be a URI-shaped
	// string whose final path segment names the logical stream, e.g.
	// "rtmp://ome.example.org/app/name-your-stream" (required).
	RTMPURL string
	// FrameRate is the frames-per-second contract stamped on every buffer.
	// Defaults to 30.
	FrameRate int
	// BitrateKbps is the encoder target bitrate in kbit/s. Defaults to 3500.
	BitrateKbps int
	// SpeedPreset is the encoder speed/quality trade-off. Defaults to
	// "ultrafast".
	SpeedPreset string
}

// withDefaults fills unset optional fields.
func (c Config) withDefaults() Config {
	if c.FrameRate == 0 {
		c.FrameRate = 30
	}
	if c.BitrateKbps == 0 {
		c.BitrateKbps = 3500
	}
	if c.SpeedPreset == "" {
		c.SpeedPreset = "ultrafast"
	}
	return c
}

// PublisherStats is a snapshot of publisher counters and branch state.
type PublisherStats struct {
	// FramesSubmitted is the number of frames the graph accepted.
	FramesSubmitted uint64
	// FramesRejected is the number of submissions refused by flow control
	// (demand flag off). Normal behavior, not errors.
	FramesRejected uint64
	// PushFailures is the number of frames the runtime refused after
	// submission passed flow control.
	PushFailures uint64
	// NetworkAttached reports whether the RTMP branch is attached.
	NetworkAttached bool
	// DisplayAttached reports whether the local-display branch is attached.
	DisplayAttached bool
	// Active reports whether the graph is flowing (at least one branch).
	Active bool
	// Uptime is the time since the graph first went active.
	Uptime time.Duration
	// ErrorsNetwork counts runtime errors classified as transport failures.
	ErrorsNetwork uint64
	// ErrorsCodec counts runtime errors classified as encode/mux failures.
	ErrorsCodec uint64
	// ErrorsUnknown counts unclassified runtime errors.
	ErrorsUnknown uint64
}
