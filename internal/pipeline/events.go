package pipeline

import (
	"fmt"
	"time"
)

// WaitEvent blocks up to timeout waiting for the runtime to report a fatal
// error or end-of-stream. A zero timeout waits without bound.
//
// Returns (nil, nil) when the timeout elapsed with no event. Both event
// kinds are terminal for the whole graph; the embedding application should
// shut down in an orderly fashion when one arrives.
//
// The diagnostic channel is pre-filtered to errors and end-of-stream; any
// other kind is a runtime contract violation reported as ErrUnexpectedEvent.
func (g *Graph) WaitEvent(timeout time.Duration) (*Event, error) {
	ev, ok := g.host.Events().Wait(timeout)
	if !ok {
		return nil, nil
	}

	switch ev.Kind {
	case EventError, EventEndOfStream:
		return &ev, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedEvent, ev.Kind)
	}
}
