package streampublish

import "fmt"

// ErrUnsupportedFormat is returned for frames whose channel count is
// outside {3, 4}.
var ErrUnsupportedFormat = fmt.Errorf("stream-publish: unsupported frame format")

// normalizeFrame converts a structured frame into the graph's negotiated
// packed RGB layout.
//
// Four-channel input is taken as interleaved BGRA: the alpha byte is
// dropped and the remaining channels reordered. Three-channel input is
// taken as interleaved BGR and reordered. Any other channel count is
// rejected without producing output.
func normalizeFrame(f Frame) ([]byte, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("stream-publish: invalid frame dimensions %dx%d", f.Width, f.Height)
	}

	pixels := f.Width * f.Height
	if len(f.Data) != pixels*f.Channels {
		return nil, fmt.Errorf(
			"stream-publish: frame payload is %d bytes, want %d (%dx%dx%d)",
			len(f.Data), pixels*f.Channels, f.Width, f.Height, f.Channels,
		)
	}

	switch f.Channels {
	case 4:
		out := make([]byte, pixels*3)
		for i := 0; i < pixels; i++ {
			out[i*3+0] = f.Data[i*4+2] // R
			out[i*3+1] = f.Data[i*4+1] // G
			out[i*3+2] = f.Data[i*4+0] // B
		}
		return out, nil
	case 3:
		out := make([]byte, pixels*3)
		for i := 0; i < pixels; i++ {
			out[i*3+0] = f.Data[i*3+2] // R
			out[i*3+1] = f.Data[i*3+1] // G
			out[i*3+2] = f.Data[i*3+0] // B
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d channels (want 3 or 4)", ErrUnsupportedFormat, f.Channels)
	}
}
