package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// In-memory runtime used by the package tests: ports link symmetrically,
// bins hand out numbered fan-out ports, the host tracks membership and
// state-lock balance. Failure injection fields let tests script a specific
// step of the attach protocol to fail.

type fakePort struct {
	name    string
	peer    Port
	linkErr error
}

func (p *fakePort) Name() string { return p.name }

func (p *fakePort) Link(peer Port) error {
	if p.linkErr != nil {
		return p.linkErr
	}
	if p.peer != nil {
		return fmt.Errorf("port %q already linked", p.name)
	}
	p.peer = peer
	if fp, ok := peer.(*fakePort); ok {
		fp.peer = p
	}
	return nil
}

func (p *fakePort) Unlink(peer Port) error {
	p.peer = nil
	if fp, ok := peer.(*fakePort); ok {
		fp.peer = nil
	}
	return nil
}

func (p *fakePort) Peer() Port { return p.peer }

type fakeBin struct {
	name   string
	static map[string]*fakePort
	state  State

	requested []*fakePort
	released  int
	exposed   map[string]*fakePort
	concealed int
	reqSeq    int

	staticErr  error
	requestErr error
	exposeErr  error
	linkErr    error // injected into the next exposed port
}

func newFakeBin(name string, staticPorts ...string) *fakeBin {
	b := &fakeBin{
		name:    name,
		static:  make(map[string]*fakePort),
		exposed: make(map[string]*fakePort),
	}
	for _, p := range staticPorts {
		b.static[p] = &fakePort{name: p}
	}
	return b
}

func (b *fakeBin) Name() string { return b.name }

func (b *fakeBin) StaticPort(name string) (Port, error) {
	if b.staticErr != nil {
		return nil, b.staticErr
	}
	p, ok := b.static[name]
	if !ok {
		return nil, fmt.Errorf("bin %q has no port %q", b.name, name)
	}
	return p, nil
}

func (b *fakeBin) RequestPort(element string) (Port, error) {
	if b.requestErr != nil {
		return nil, b.requestErr
	}
	b.reqSeq++
	p := &fakePort{name: fmt.Sprintf("%s_src_%d", element, b.reqSeq)}
	b.requested = append(b.requested, p)
	return p, nil
}

func (b *fakeBin) ReleasePort(element string, p Port) error {
	for i, rp := range b.requested {
		if rp == p {
			b.requested = append(b.requested[:i], b.requested[i+1:]...)
			b.released++
			return nil
		}
	}
	return fmt.Errorf("port %q was not requested from %q", p.Name(), element)
}

func (b *fakeBin) Expose(name string, target Port) (Port, error) {
	if b.exposeErr != nil {
		return nil, b.exposeErr
	}
	p := &fakePort{name: name, linkErr: b.linkErr}
	b.exposed[name] = p
	return p, nil
}

func (b *fakeBin) Conceal(p Port) error {
	if _, ok := b.exposed[p.Name()]; !ok {
		return fmt.Errorf("port %q is not exposed on %q", p.Name(), b.name)
	}
	delete(b.exposed, p.Name())
	b.concealed++
	return nil
}

func (b *fakeBin) SetState(s State) error {
	b.state = s
	return nil
}

type fakeHost struct {
	mu      sync.Mutex
	bins    map[string]Bin
	state   State
	locks   int
	unlocks int
	closed  bool
	events  *fakeEvents

	addErrFor string // bin name whose Add fails
	removeErr error
	lockErr   error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		bins:   make(map[string]Bin),
		events: newFakeEvents(),
	}
}

func (h *fakeHost) Add(b Bin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b.Name() == h.addErrFor {
		return errors.New("injected add failure")
	}
	if _, ok := h.bins[b.Name()]; ok {
		return fmt.Errorf("bin %q already added", b.Name())
	}
	h.bins[b.Name()] = b
	return nil
}

func (h *fakeHost) Remove(b Bin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.removeErr != nil {
		return h.removeErr
	}
	if _, ok := h.bins[b.Name()]; !ok {
		return fmt.Errorf("bin %q is not a member", b.Name())
	}
	delete(h.bins, b.Name())
	return nil
}

func (h *fakeHost) Contains(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.bins[name]
	return ok
}

func (h *fakeHost) SetState(s State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
	return nil
}

func (h *fakeHost) LockState() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lockErr != nil {
		return h.lockErr
	}
	h.locks++
	return nil
}

func (h *fakeHost) UnlockState() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unlocks++
	return nil
}

func (h *fakeHost) Events() EventSource { return h.events }

func (h *fakeHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHost) memberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bins)
}

type fakeIngest struct {
	mu      sync.Mutex
	pushed  []Buffer
	pushErr error
	need    func()
	enough  func()
	sets    int
	clears  int
}

func (f *fakeIngest) Push(buf Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, buf)
	return nil
}

func (f *fakeIngest) SetDemandCallbacks(need, enough func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.need = need
	f.enough = enough
	f.sets++
}

func (f *fakeIngest) ClearDemandCallbacks() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.need = nil
	f.enough = nil
	f.clears++
}

// signalNeed simulates the runtime asking for data.
func (f *fakeIngest) signalNeed() {
	f.mu.Lock()
	cb := f.need
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// signalEnough simulates the runtime reporting saturation.
func (f *fakeIngest) signalEnough() {
	f.mu.Lock()
	cb := f.enough
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (f *fakeIngest) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

type fakeEvents struct {
	ch chan Event
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{ch: make(chan Event, 16)}
}

func (f *fakeEvents) emit(ev Event) { f.ch <- ev }

func (f *fakeEvents) Wait(timeout time.Duration) (Event, bool) {
	if timeout == 0 {
		return <-f.ch, true
	}
	select {
	case ev := <-f.ch:
		return ev, true
	case <-time.After(timeout):
		return Event{}, false
	}
}

// newTestGraph builds a graph over fresh fakes with a tee-style fan-out
// element named "tee" and a 30 fps frame duration.
func newTestGraph(t *testing.T) (*Graph, *fakeHost, *fakeBin, *fakeIngest) {
	t.Helper()
	host := newFakeHost()
	source := newFakeBin("source")
	ingest := &fakeIngest{}

	g, err := NewGraph(host, source, ingest, "tee", 30)
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	return g, host, source, ingest
}
