package streampublish

import (
	"context"
	"time"
)

// FramePublisher defines the contract for dual-destination frame publishing.
//
// Implementations must guarantee:
//   - SendFrame/SendRaw never block on a saturated graph: they fail fast
//     with ErrNotReady and the caller retries with a later frame.
//   - Branch start/stop calls are idempotent and never interrupt the other
//     branch; frames already inside the graph are not lost by a detach.
//   - All methods are safe for concurrent use: submission, branch control
//     and diagnostics may run on independent goroutines.
//   - Close() releases every graph resource and is idempotent.
type FramePublisher interface {
	// SendFrame submits one structured frame. The pixel payload is
	// normalized to the graph's negotiated layout; channel counts outside
	// {3, 4} are rejected with ErrUnsupportedFormat.
	//
	// Returns ErrNotReady when the graph does not want data. This is flow
	// control, not a failure: drop the frame and try again with the next
	// one. Push errors are retryable and never fatal to the graph.
	SendFrame(f Frame) error

	// SendRaw submits a payload assumed to already be in the graph's
	// native pixel layout. Same outcomes as SendFrame.
	SendRaw(data []byte) error

	// StartStream attaches both output branches; StopStream detaches both.
	// Each branch is attempted independently.
	StartStream() error
	StopStream() error

	// StartRTMPStream / StopRTMPStream control the network branch only.
	// Starting an attached branch and stopping a detached one are no-ops.
	StartRTMPStream() error
	StopRTMPStream() error

	// StartLocalStream / StopLocalStream control the display branch only.
	StartLocalStream() error
	StopLocalStream() error

	// WaitEvent blocks up to timeout for a fatal error or end-of-stream
	// from the runtime. A zero timeout waits without bound. (nil, nil)
	// means the timeout elapsed with nothing to report. Either event kind
	// is terminal for the whole graph: the embedder should shut down.
	WaitEvent(timeout time.Duration) (*Event, error)

	// Monitor polls the diagnostic channel until a terminal event arrives
	// (returned as an error) or ctx is cancelled (returns nil).
	Monitor(ctx context.Context) error

	// Stats returns a point-in-time snapshot of counters and branch state.
	Stats() PublisherStats

	// DebugInfo renders graph/branch/port state for troubleshooting only;
	// the format is not a stable machine interface.
	DebugInfo() string

	// Close detaches all branches and releases the graph. Idempotent.
	Close() error
}
