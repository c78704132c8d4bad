package pipeline

import "time"

// State is the activity state of the media graph or one of its subgraphs.
//
// The external runtime drives the actual state machine; this package only
// requests transitions and records the last requested state for bookkeeping.
type State int

const (
	// StateIdle means no resources are committed to active processing.
	StateIdle State = iota
	// StateReady means resources are allocated but no data flows.
	StateReady
	// StatePaused means the graph is prerolled but clocked output is held.
	StatePaused
	// StateActive means frames flow through the graph.
	StateActive
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Port is one end of a link inside the media graph.
//
// A port handle is only valid between its creation (static lookup, fan-out
// request or boundary exposure) and its release. Links are made and broken
// exclusively through this interface so the graph bookkeeping and the
// runtime topology cannot drift apart.
type Port interface {
	// Name returns the runtime-assigned port name.
	Name() string

	// Link connects this port to peer. Fails if either side is already
	// linked or the runtime rejects the connection.
	Link(peer Port) error

	// Unlink disconnects this port from peer.
	Unlink(peer Port) error

	// Peer returns the currently linked peer, or nil when unlinked.
	Peer() Port
}

// Bin is an opaque subgraph handle owned by the media runtime.
//
// The runtime instantiates bins from its own description language; this
// package never parses descriptions, it only needs named-port lookup and
// port management on an already-built bin.
type Bin interface {
	// Name returns the runtime-assigned bin name.
	Name() string

	// StaticPort looks up a fixed boundary port, e.g. "sink" on a branch bin.
	StaticPort(name string) (Port, error)

	// RequestPort asks the named fan-out element inside the bin for a fresh
	// output port. Each call yields a distinct port that duplicates the
	// element's input stream.
	RequestPort(element string) (Port, error)

	// ReleasePort returns a previously requested port to the fan-out element.
	// The port handle is invalid afterwards.
	ReleasePort(element string, p Port) error

	// Expose adds a boundary port on the bin that forwards the internal
	// target port. The exposed port must not outlive its target.
	Expose(name string, target Port) (Port, error)

	// Conceal removes a previously exposed boundary port.
	Conceal(p Port) error

	// SetState requests an activity-state transition for this bin only.
	SetState(s State) error
}

// Ingest is the push-based entry point into the source subgraph.
type Ingest interface {
	// Push hands one timestamped buffer to the runtime. The runtime owns the
	// buffer from this point until every attached branch has consumed it.
	// A non-nil error is a retryable push failure, not graph corruption.
	Push(buf Buffer) error

	// SetDemandCallbacks registers the runtime's flow-control callbacks.
	// They fire on the runtime's own threads and must never block.
	SetDemandCallbacks(need, enough func())

	// ClearDemandCallbacks unregisters the flow-control callbacks.
	ClearDemandCallbacks()
}

// Host is the top-level container that owns the whole graph and drives it on
// the runtime's background execution context.
type Host interface {
	// Add inserts a bin into the graph as an owned member.
	Add(b Bin) error

	// Remove takes a bin out of the graph, handing ownership back to the
	// caller.
	Remove(b Bin) error

	// Contains reports whether a bin with the given name is currently a
	// member of the graph.
	Contains(name string) bool

	// SetState requests an activity-state transition for the whole graph.
	SetState(s State) error

	// LockState suspends structural state mutation while topology changes
	// are in progress. UnlockState resumes it.
	LockState() error
	UnlockState() error

	// Events returns the graph's diagnostic message source, pre-filtered to
	// fatal errors and end-of-stream.
	Events() EventSource

	// Close forces the graph to idle and releases all owned subgraphs.
	Close() error
}

// Buffer is one frame handed to the ingest point: a copied pixel payload
// plus presentation/decode timestamps and a fixed per-frame duration.
type Buffer struct {
	Data     []byte
	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration
}

// EventKind identifies the two message kinds the diagnostic channel carries.
type EventKind int

const (
	// EventError is a fatal error raised somewhere inside the runtime graph.
	EventError EventKind = iota + 1
	// EventEndOfStream signals that the stream has ended.
	EventEndOfStream
)

// String returns a human-readable event kind.
func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventEndOfStream:
		return "end-of-stream"
	default:
		return "unknown"
	}
}

// Event is one diagnostic message popped from the runtime's channel.
type Event struct {
	// Kind is the message kind; the channel is pre-filtered so anything
	// other than EventError or EventEndOfStream is a contract violation.
	Kind EventKind

	// Err carries the error descriptor for EventError.
	Err error

	// Debug carries optional runtime debug text for EventError.
	Debug string
}

// EventSource delivers diagnostic events from the runtime.
type EventSource interface {
	// Wait blocks up to timeout for the next event. A zero timeout waits
	// without bound. ok is false when the timeout elapsed with no event.
	Wait(timeout time.Duration) (ev Event, ok bool)
}
