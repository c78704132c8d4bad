package pipeline

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestNewGraph_Validation(t *testing.T) {
	host := newFakeHost()
	source := newFakeBin("source")
	ingest := &fakeIngest{}

	tests := []struct {
		name      string
		host      Host
		source    Bin
		ingest    Ingest
		fanout    string
		frameRate int
	}{
		{"nil host", nil, source, ingest, "tee", 30},
		{"nil source", host, nil, ingest, "tee", 30},
		{"nil ingest", host, source, nil, "tee", 30},
		{"empty fanout", host, source, ingest, "", 30},
		{"zero frame rate", host, source, ingest, "tee", 0},
		{"negative frame rate", host, source, ingest, "tee", -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGraph(tt.host, tt.source, tt.ingest, tt.fanout, tt.frameRate); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestNewGraph_AddsSource(t *testing.T) {
	_, host, source, _ := newTestGraph(t)

	if !host.Contains(source.Name()) {
		t.Error("source bin not added to host")
	}
}

func TestGraph_AttachDetach(t *testing.T) {
	g, host, source, ingest := newTestGraph(t)

	network := NewBranch("network", newFakeBin("network-bin", "sink"))
	display := NewBranch("display", newFakeBin("display-bin", "sink"))

	attached, err := g.Attach(network)
	if err != nil {
		t.Fatalf("attach network failed: %v", err)
	}
	if !attached {
		t.Error("attach reported no-op for a fresh branch")
	}
	if !g.Attached("network") {
		t.Error("network branch not reported attached")
	}
	if !host.Contains("network-bin") {
		t.Error("network bin not a host member")
	}
	if network.exposed == nil || network.exposed.Peer() == nil {
		t.Error("exposed port not linked to branch sink")
	}
	if g.State() != StateActive {
		t.Errorf("graph state = %s, want active", g.State())
	}
	if ingest.sets != 1 {
		t.Errorf("demand callbacks set %d times, want 1", ingest.sets)
	}

	if _, err := g.Attach(display); err != nil {
		t.Fatalf("attach display failed: %v", err)
	}
	if got := g.AttachedCount(); got != 2 {
		t.Errorf("attached count = %d, want 2", got)
	}
	if ingest.sets != 1 {
		t.Errorf("demand callbacks re-set on second attach: %d sets", ingest.sets)
	}

	// Detaching one branch must not disturb the other.
	back, detached, err := g.Detach("network")
	if err != nil {
		t.Fatalf("detach network failed: %v", err)
	}
	if !detached {
		t.Error("detach reported no-op for an attached branch")
	}
	if back != network {
		t.Error("detach did not return the original branch handle")
	}
	if back.outPort != nil || back.exposed != nil {
		t.Error("detached branch still holds graph ports")
	}
	if host.Contains("network-bin") {
		t.Error("detached bin still a host member")
	}
	if !g.Attached("display") {
		t.Error("display branch lost during network detach")
	}
	if g.State() != StateActive {
		t.Error("graph went idle with a branch still attached")
	}

	// The returned handle re-attaches cleanly.
	if attached, err := g.Attach(back); err != nil || !attached {
		t.Fatalf("re-attach failed: attached=%v err=%v", attached, err)
	}

	if host.locks != host.unlocks {
		t.Errorf("state lock unbalanced: %d locks, %d unlocks", host.locks, host.unlocks)
	}
	if len(source.requested) != g.AttachedCount() {
		t.Errorf("fan-out ports outstanding = %d, want %d", len(source.requested), g.AttachedCount())
	}
}

func TestGraph_AttachAlreadyConnected(t *testing.T) {
	g, _, _, _ := newTestGraph(t)
	branch := NewBranch("network", newFakeBin("network-bin", "sink"))

	if _, err := g.Attach(branch); err != nil {
		t.Fatalf("first attach failed: %v", err)
	}

	attached, err := g.Attach(branch)
	if err != nil {
		t.Fatalf("repeat attach errored: %v", err)
	}
	if attached {
		t.Error("repeat attach reported a structural change")
	}
	if got := g.AttachedCount(); got != 1 {
		t.Errorf("attached count = %d after repeat attach, want 1", got)
	}
}

func TestGraph_DetachAlreadyDisconnected(t *testing.T) {
	g, _, _, _ := newTestGraph(t)

	branch, detached, err := g.Detach("network")
	if err != nil {
		t.Fatalf("detach of absent branch errored: %v", err)
	}
	if detached || branch != nil {
		t.Error("detach of absent branch reported a structural change")
	}
}

func TestGraph_LastDetachQuiesces(t *testing.T) {
	g, host, _, ingest := newTestGraph(t)
	branch := NewBranch("display", newFakeBin("display-bin", "sink"))

	if _, err := g.Attach(branch); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	ingest.signalNeed()

	if _, _, err := g.Detach("display"); err != nil {
		t.Fatalf("detach failed: %v", err)
	}

	if ingest.clears != 1 {
		t.Errorf("demand callbacks cleared %d times, want 1", ingest.clears)
	}
	if g.State() != StateIdle {
		t.Errorf("graph state = %s after last detach, want idle", g.State())
	}
	host.mu.Lock()
	hostState := host.state
	host.mu.Unlock()
	if hostState != StateIdle {
		t.Errorf("host state = %s after last detach, want idle", hostState)
	}

	// The flag was reset with the callbacks, so the graph reports not ready.
	if err := g.Submit([]byte{1}); !errors.Is(err, ErrNotReady) {
		t.Errorf("submit after quiesce = %v, want ErrNotReady", err)
	}
}

func TestGraph_AttachRollback(t *testing.T) {
	injectedErr := errors.New("injected failure")

	tests := []struct {
		name   string
		branch func() *Branch
		inject func(host *fakeHost, source *fakeBin)
	}{
		{
			name:   "insert fails",
			branch: func() *Branch { return NewBranch("network", newFakeBin("network-bin", "sink")) },
			inject: func(host *fakeHost, source *fakeBin) { host.addErrFor = "network-bin" },
		},
		{
			name:   "port request fails",
			branch: func() *Branch { return NewBranch("network", newFakeBin("network-bin", "sink")) },
			inject: func(host *fakeHost, source *fakeBin) { source.requestErr = injectedErr },
		},
		{
			name:   "expose fails",
			branch: func() *Branch { return NewBranch("network", newFakeBin("network-bin", "sink")) },
			inject: func(host *fakeHost, source *fakeBin) { source.exposeErr = injectedErr },
		},
		{
			name:   "branch has no sink port",
			branch: func() *Branch { return NewBranch("network", newFakeBin("network-bin")) },
			inject: func(host *fakeHost, source *fakeBin) {},
		},
		{
			name:   "link fails",
			branch: func() *Branch { return NewBranch("network", newFakeBin("network-bin", "sink")) },
			inject: func(host *fakeHost, source *fakeBin) { source.linkErr = injectedErr },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, host, source, ingest := newTestGraph(t)
			tt.inject(host, source)

			attached, err := g.Attach(tt.branch())
			if err == nil {
				t.Fatal("expected attach to fail")
			}
			if attached {
				t.Error("failed attach reported success")
			}

			// Failure must leave no trace: only the source bin in the host,
			// no outstanding fan-out or boundary ports, demand untouched.
			if g.AttachedCount() != 0 {
				t.Errorf("attached count = %d after failed attach", g.AttachedCount())
			}
			if n := host.memberCount(); n != 1 {
				t.Errorf("host members = %d after rollback, want 1 (source)", n)
			}
			if len(source.requested) != 0 {
				t.Errorf("fan-out ports leaked: %d outstanding", len(source.requested))
			}
			if len(source.exposed) != 0 {
				t.Errorf("boundary ports leaked: %d outstanding", len(source.exposed))
			}
			if ingest.sets != 0 {
				t.Error("demand callbacks wired despite failed attach")
			}
			if host.locks != host.unlocks {
				t.Errorf("state lock unbalanced: %d locks, %d unlocks", host.locks, host.unlocks)
			}
			if g.State() != StateIdle {
				t.Errorf("graph state = %s after failed attach, want idle", g.State())
			}
		})
	}
}

func TestGraph_AttachAfterRollbackSucceeds(t *testing.T) {
	g, _, source, _ := newTestGraph(t)
	source.requestErr = errors.New("transient")

	branch := NewBranch("network", newFakeBin("network-bin", "sink"))
	if _, err := g.Attach(branch); err == nil {
		t.Fatal("expected first attach to fail")
	}

	source.requestErr = nil
	if attached, err := g.Attach(branch); err != nil || !attached {
		t.Fatalf("retry after rollback failed: attached=%v err=%v", attached, err)
	}
}

func TestGraph_Close(t *testing.T) {
	g, host, _, _ := newTestGraph(t)

	network := NewBranch("network", newFakeBin("network-bin", "sink"))
	display := NewBranch("display", newFakeBin("display-bin", "sink"))
	if _, err := g.Attach(network); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if _, err := g.Attach(display); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	if err := g.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if !host.closed {
		t.Error("host not closed")
	}
	if n := host.memberCount(); n != 1 {
		t.Errorf("host members = %d after close, want 1 (source)", n)
	}

	if _, err := g.Attach(network); !errors.Is(err, ErrClosed) {
		t.Errorf("attach after close = %v, want ErrClosed", err)
	}
	if _, _, err := g.Detach("display"); !errors.Is(err, ErrClosed) {
		t.Errorf("detach after close = %v, want ErrClosed", err)
	}
	if err := g.Submit([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after close = %v, want ErrClosed", err)
	}

	// Close is idempotent.
	if err := g.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestGraph_DebugDump(t *testing.T) {
	g, _, _, _ := newTestGraph(t)
	branch := NewBranch("network", newFakeBin("network-bin", "sink"))
	if _, err := g.Attach(branch); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	dump := g.DebugDump()
	for _, want := range []string{"branch network", "network-bin", "active", "attached branches: 1"} {
		if !strings.Contains(dump, want) {
			t.Errorf("debug dump missing %q:\n%s", want, dump)
		}
	}
}

// Frame submission and reconfiguration race freely; the graph must end in a
// consistent state with every accepted frame accounted for.
func TestGraph_ConcurrentSubmitAndReconfigure(t *testing.T) {
	g, host, source, ingest := newTestGraph(t)

	network := NewBranch("network", newFakeBin("network-bin", "sink"))
	display := NewBranch("display", newFakeBin("display-bin", "sink"))
	if _, err := g.Attach(display); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	ingest.signalNeed()

	const (
		submitters = 4
		submits    = 250
		cycles     = 50
	)

	var wg sync.WaitGroup
	frame := []byte{1, 2, 3}

	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < submits; j++ {
				if err := g.Submit(frame); err != nil && !errors.Is(err, ErrNotReady) {
					t.Errorf("submit failed: %v", err)
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < cycles; j++ {
			if _, err := g.Attach(network); err != nil {
				t.Errorf("attach cycle failed: %v", err)
				return
			}
			ingest.signalNeed()
			if _, _, err := g.Detach("network"); err != nil {
				t.Errorf("detach cycle failed: %v", err)
				return
			}
			ingest.signalNeed()
		}
	}()

	wg.Wait()

	if !g.Attached("display") {
		t.Error("display branch lost during concurrent reconfiguration")
	}
	if g.Attached("network") {
		t.Error("network branch still attached after final detach")
	}
	if got, want := int(g.Submitted()), ingest.pushCount(); got != want {
		t.Errorf("submitted counter = %d, ingest saw %d", got, want)
	}
	if host.locks != host.unlocks {
		t.Errorf("state lock unbalanced: %d locks, %d unlocks", host.locks, host.unlocks)
	}
	if len(source.requested) != 1 {
		t.Errorf("fan-out ports outstanding = %d, want 1", len(source.requested))
	}
}

// Walks the full dual-publish lifecycle: attach network, add display, drop
// network while display keeps flowing, then quiesce.
func TestGraph_DualPublishLifecycle(t *testing.T) {
	g, _, _, ingest := newTestGraph(t)

	network := NewBranch("network", newFakeBin("network-bin", "sink"))
	display := NewBranch("display", newFakeBin("display-bin", "sink"))
	frame := []byte{0xAA, 0xBB, 0xCC}

	submitOK := func(label string) {
		t.Helper()
		ingest.signalNeed()
		if err := g.Submit(frame); err != nil {
			t.Fatalf("%s: submit failed: %v", label, err)
		}
	}

	if _, err := g.Attach(network); err != nil {
		t.Fatalf("attach network: %v", err)
	}
	submitOK("network only")

	if _, err := g.Attach(display); err != nil {
		t.Fatalf("attach display: %v", err)
	}
	submitOK("both branches")

	if _, _, err := g.Detach("network"); err != nil {
		t.Fatalf("detach network: %v", err)
	}
	if !g.Attached("display") {
		t.Fatal("display dropped when network detached")
	}
	submitOK("display only")

	if _, _, err := g.Detach("display"); err != nil {
		t.Fatalf("detach display: %v", err)
	}
	if g.State() != StateIdle {
		t.Errorf("graph state = %s after full detach, want idle", g.State())
	}

	if got := ingest.pushCount(); got != 3 {
		t.Errorf("ingest saw %d frames, want 3", got)
	}
}
