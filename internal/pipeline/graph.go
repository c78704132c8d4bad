package pipeline

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Branch is an independently attachable consumer subgraph with exactly one
// input port named "sink".
//
// Ownership moves with the topology: Attach transfers the branch into the
// graph, Detach transfers it back to the caller. A detached branch keeps its
// bin and can be re-attached later with the same handle.
type Branch struct {
	name string
	bin  Bin

	// set while attached, nil otherwise
	outPort Port // distribution point output port
	exposed Port // source-bin boundary port forwarding outPort

	state State
}

// NewBranch wraps a runtime bin as an attachable branch. The name must be
// unique among branches of the same graph.
func NewBranch(name string, bin Bin) *Branch {
	return &Branch{name: name, bin: bin, state: StateIdle}
}

// Name returns the branch's stable name.
func (b *Branch) Name() string { return b.name }

// State returns the branch's current activity state.
func (b *Branch) State() State { return b.state }

// attached reports whether the branch currently holds graph ports.
func (b *Branch) attached() bool { return b.outPort != nil }

// Graph owns the source subgraph and the set of currently attached branches,
// and serializes every structural mutation and every frame submission behind
// one per-instance handling lock.
//
// The handling lock and the demand flag's lock are the only two locks in the
// subsystem and are never held at the same time in a nesting order that
// could deadlock: the demand lock is only taken for flag reads/writes.
type Graph struct {
	mu sync.Mutex // handling lock: topology mutation and frame submission

	host    Host
	source  Bin
	ingest  Ingest
	fanout  string // name of the fan-out element inside the source bin
	demand  demandGate
	closed  bool
	started time.Time // set on first transition to Active

	branches map[string]*Branch

	frameDuration time.Duration
	lastPTS       time.Duration
	submitted     uint64 // successful pushes
}

// NewGraph assembles the bookkeeping around an already-built source subgraph.
//
// fanout names the distribution element inside the source bin from which
// output ports are requested. frameRate fixes the per-buffer duration the
// submission path stamps on every frame.
func NewGraph(host Host, source Bin, ingest Ingest, fanout string, frameRate int) (*Graph, error) {
	if host == nil || source == nil || ingest == nil {
		return nil, fmt.Errorf("pipeline: host, source and ingest are required")
	}
	if fanout == "" {
		return nil, fmt.Errorf("pipeline: fan-out element name is required")
	}
	if frameRate <= 0 {
		return nil, fmt.Errorf("pipeline: invalid frame rate %d", frameRate)
	}

	g := &Graph{
		host:          host,
		source:        source,
		ingest:        ingest,
		fanout:        fanout,
		branches:      make(map[string]*Branch),
		frameDuration: time.Second / time.Duration(frameRate),
	}

	if err := host.Add(source); err != nil {
		return nil, fmt.Errorf("pipeline: failed to add source subgraph: %w", err)
	}

	return g, nil
}

// Attach links branch to the live distribution point.
//
// Attaching a branch that is already present is a no-op reporting
// "already connected": attached is false and err is nil.
//
// The protocol runs under the handling lock with the host's structural
// mutation suspended: insert the branch bin, request a fresh fan-out output
// port, expose it on the source-bin boundary, link boundary to branch sink.
// Any failure rolls the partial steps back and returns a structural error;
// the attempt failed but the graph and its other branches are intact.
func (g *Graph) Attach(branch *Branch) (attached bool, err error) {
	if branch == nil {
		return false, fmt.Errorf("pipeline: nil branch")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false, ErrClosed
	}

	if _, ok := g.branches[branch.name]; ok || g.host.Contains(branch.bin.Name()) {
		slog.Info("stream-publish: branch already connected", "branch", branch.name)
		return false, nil
	}

	if err := g.host.LockState(); err != nil {
		return false, fmt.Errorf("pipeline: failed to suspend graph mutation: %w", err)
	}
	defer func() {
		if uerr := g.host.UnlockState(); uerr != nil && err == nil {
			err = fmt.Errorf("pipeline: failed to resume graph mutation: %w", uerr)
		}
	}()

	if err := g.host.Add(branch.bin); err != nil {
		return false, fmt.Errorf("pipeline: failed to insert branch %q: %w", branch.name, err)
	}

	outPort, err := g.source.RequestPort(g.fanout)
	if err != nil {
		g.rollbackInsert(branch)
		return false, fmt.Errorf("pipeline: failed to request output port for %q: %w", branch.name, err)
	}

	exposedName := fmt.Sprintf("%s_src_%s", branch.name, uuid.NewString()[:8])
	exposed, err := g.source.Expose(exposedName, outPort)
	if err != nil {
		g.rollbackPort(branch, outPort)
		return false, fmt.Errorf("pipeline: failed to expose port %q: %w", exposedName, err)
	}

	sinkPort, err := branch.bin.StaticPort("sink")
	if err != nil {
		g.rollbackExposed(branch, outPort, exposed)
		return false, fmt.Errorf("pipeline: branch %q has no sink port: %w", branch.name, err)
	}

	if err := exposed.Link(sinkPort); err != nil {
		g.rollbackExposed(branch, outPort, exposed)
		return false, fmt.Errorf("pipeline: failed to link %q to branch %q: %w", exposedName, branch.name, err)
	}

	branch.outPort = outPort
	branch.exposed = exposed
	g.branches[branch.name] = branch

	if len(g.branches) == 1 {
		g.wireDemand()
		if err := g.host.SetState(StateActive); err != nil {
			slog.Error("stream-publish: failed to activate graph", "error", err)
		} else if g.started.IsZero() {
			g.started = time.Now()
		}
	}

	if err := branch.bin.SetState(StateActive); err != nil {
		slog.Error("stream-publish: failed to activate branch", "branch", branch.name, "error", err)
	}
	branch.state = StateActive

	slog.Info("stream-publish: branch attached",
		"branch", branch.name,
		"exposed_port", exposed.Name(),
		"attached_count", len(g.branches),
	)

	return true, nil
}

// Detach unlinks branch from the distribution point and hands its ownership
// back to the caller.
//
// Detaching a branch that is not attached is a no-op reporting
// "already disconnected": detached is false and err is nil.
//
// The protocol mirrors Attach under the same locks: unlink the boundary port
// from the branch sink, conceal the boundary port, release the fan-out
// output port, remove the branch bin from the host. Other branches keep
// flowing throughout.
func (g *Graph) Detach(name string) (branch *Branch, detached bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, false, ErrClosed
	}

	b, ok := g.branches[name]
	if !ok {
		slog.Info("stream-publish: branch already disconnected", "branch", name)
		return nil, false, nil
	}

	if err := g.host.LockState(); err != nil {
		return nil, false, fmt.Errorf("pipeline: failed to suspend graph mutation: %w", err)
	}
	defer func() {
		if uerr := g.host.UnlockState(); uerr != nil && err == nil {
			err = fmt.Errorf("pipeline: failed to resume graph mutation: %w", uerr)
		}
	}()

	if err := g.unlinkBranch(b); err != nil {
		return nil, false, err
	}

	if err := g.host.Remove(b.bin); err != nil {
		return nil, false, fmt.Errorf("pipeline: failed to remove branch %q: %w", name, err)
	}

	delete(g.branches, name)
	b.outPort = nil
	b.exposed = nil
	b.state = StateIdle
	if err := b.bin.SetState(StateIdle); err != nil {
		slog.Error("stream-publish: failed to idle detached branch", "branch", name, "error", err)
	}

	if len(g.branches) == 0 {
		g.unwireDemand()
		if err := g.host.SetState(StateIdle); err != nil {
			slog.Error("stream-publish: failed to idle graph", "error", err)
		}
	}

	slog.Info("stream-publish: branch detached",
		"branch", name,
		"attached_count", len(g.branches),
	)

	return b, true, nil
}

// unlinkBranch breaks the boundary link and releases both port handles.
// Caller holds the handling lock and the host state lock.
func (g *Graph) unlinkBranch(b *Branch) error {
	if peer := b.exposed.Peer(); peer != nil {
		if err := b.exposed.Unlink(peer); err != nil {
			return fmt.Errorf("pipeline: failed to unlink exposed port %q: %w", b.exposed.Name(), err)
		}
	}

	if err := g.source.Conceal(b.exposed); err != nil {
		return fmt.Errorf("pipeline: failed to remove exposed port %q: %w", b.exposed.Name(), err)
	}

	if peer := b.outPort.Peer(); peer != nil {
		if err := b.outPort.Unlink(peer); err != nil {
			return fmt.Errorf("pipeline: failed to unlink output port %q: %w", b.outPort.Name(), err)
		}
	}

	if err := g.source.ReleasePort(g.fanout, b.outPort); err != nil {
		return fmt.Errorf("pipeline: failed to release output port %q: %w", b.outPort.Name(), err)
	}

	return nil
}

// Attach rollback helpers. Rollback failures are logged, not returned: the
// original structural error is the one the caller needs.

func (g *Graph) rollbackInsert(b *Branch) {
	if err := g.host.Remove(b.bin); err != nil {
		slog.Error("stream-publish: rollback failed to remove branch", "branch", b.name, "error", err)
	}
}

func (g *Graph) rollbackPort(b *Branch, outPort Port) {
	if err := g.source.ReleasePort(g.fanout, outPort); err != nil {
		slog.Error("stream-publish: rollback failed to release port", "branch", b.name, "error", err)
	}
	g.rollbackInsert(b)
}

func (g *Graph) rollbackExposed(b *Branch, outPort, exposed Port) {
	if err := g.source.Conceal(exposed); err != nil {
		slog.Error("stream-publish: rollback failed to conceal port", "branch", b.name, "error", err)
	}
	g.rollbackPort(b, outPort)
}

// wireDemand connects the runtime's flow-control callbacks to the demand
// flag. Caller holds the handling lock.
func (g *Graph) wireDemand() {
	g.ingest.SetDemandCallbacks(g.demand.needData, g.demand.enoughData)
}

// unwireDemand disconnects the callbacks and forces the flag off so a
// re-activated graph starts from "not ready". Caller holds the handling lock.
func (g *Graph) unwireDemand() {
	g.ingest.ClearDemandCallbacks()
	g.demand.reset()
}

// Attached reports whether a branch with the given name is currently linked.
func (g *Graph) Attached(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.branches[name]
	return ok
}

// AttachedCount returns the number of currently attached branches.
func (g *Graph) AttachedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.branches)
}

// State returns the graph's current activity state: Active while at least
// one branch is attached, Idle otherwise.
func (g *Graph) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.branches) > 0 {
		return StateActive
	}
	return StateIdle
}

// Events returns the graph's diagnostic message source.
func (g *Graph) Events() EventSource {
	return g.host.Events()
}

// Close forces the graph to idle, detaches every branch and releases the
// source subgraph. The graph cannot be used afterwards.
func (g *Graph) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}

	names := make([]string, 0, len(g.branches))
	for name := range g.branches {
		names = append(names, name)
	}
	g.mu.Unlock()

	for _, name := range names {
		if _, _, err := g.Detach(name); err != nil {
			slog.Error("stream-publish: close failed to detach branch", "branch", name, "error", err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.unwireDemand()

	if err := g.host.Close(); err != nil {
		return fmt.Errorf("pipeline: failed to close graph host: %w", err)
	}
	return nil
}

// DebugDump renders a human-readable snapshot of graph, branch and port
// state for operator troubleshooting. Not a stable machine interface.
func (g *Graph) DebugDump() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("----------------- GRAPH DEBUG INFO -----------------\n")

	state := StateIdle
	if len(g.branches) > 0 {
		state = StateActive
	}
	fmt.Fprintf(&sb, "graph state: %s (closed: %v)\n", state, g.closed)
	fmt.Fprintf(&sb, "source bin: %s (fan-out element: %s)\n", g.source.Name(), g.fanout)
	fmt.Fprintf(&sb, "demand flag: %v\n", g.demand.ready())
	fmt.Fprintf(&sb, "frames pushed: %d (last pts: %s)\n", g.submitted, g.lastPTS)
	fmt.Fprintf(&sb, "attached branches: %d\n", len(g.branches))

	for name, b := range g.branches {
		fmt.Fprintf(&sb, "  ### branch %s ###\n", name)
		fmt.Fprintf(&sb, "  bin: %s, state: %s\n", b.bin.Name(), b.state)
		fmt.Fprintf(&sb, "  output port: %s (linked: %v)\n", b.outPort.Name(), b.outPort.Peer() != nil)
		fmt.Fprintf(&sb, "  exposed port: %s (linked: %v)\n", b.exposed.Name(), b.exposed.Peer() != nil)
	}

	sb.WriteString("----------------- END DEBUG INFO -------------------\n")
	return sb.String()
}
