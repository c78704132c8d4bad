package pipeline

import (
	"fmt"
	"time"
)

// Submit hands one frame in the graph's native pixel layout to the ingest
// point, honoring the graph's current readiness to accept data.
//
// Outcomes:
//   - ErrEmptyFrame for a zero-sized payload (nothing is submitted).
//   - ErrNotReady when the demand flag is off. This is normal flow control;
//     retry with a later frame.
//   - a wrapped push error when the runtime rejects the buffer. Retryable,
//     not fatal to the graph.
//   - nil when the buffer was accepted.
//
// The payload is copied before hand-off; the runtime owns the copy until all
// attached branches have consumed it. The buffer is stamped with a
// presentation/decode timestamp measured from the instant the graph first
// went active, and the fixed per-frame duration configured at construction.
//
// Submission takes the handling lock, so it cannot interleave with an
// attach/detach mutating the source subgraph it flows through, and at most
// one frame is being prepared or pushed at a time.
func (g *Graph) Submit(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}

	if !g.demand.ready() {
		return ErrNotReady
	}

	pts := g.frameDuration * time.Duration(g.submitted)
	if !g.started.IsZero() {
		pts = time.Since(g.started)
	}
	if pts < g.lastPTS {
		pts = g.lastPTS
	}

	payload := make([]byte, len(data))
	copy(payload, data)

	buf := Buffer{
		Data:     payload,
		PTS:      pts,
		DTS:      pts,
		Duration: g.frameDuration,
	}

	if err := g.ingest.Push(buf); err != nil {
		return fmt.Errorf("pipeline: push failed: %w", err)
	}

	g.lastPTS = pts
	g.submitted++
	return nil
}

// Submitted returns the number of buffers the ingest point has accepted.
func (g *Graph) Submitted() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submitted
}
