// Package gstreamer adapts the GStreamer runtime (via go-gst) to the
// pipeline package's runtime seam: opaque bins, ports, the push ingest
// point and the filtered diagnostic bus.
//
// All GStreamer specifics live here. The pipeline package never sees a
// gst type, which keeps the reconfiguration protocol testable against
// in-memory fakes.
package gstreamer

import (
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/stream-publish/internal/pipeline"
)

// busPollInterval bounds each blocking pop so Wait stays responsive to its
// caller-supplied timeout.
const busPollInterval = 100 * time.Millisecond

// toGstState maps the subsystem's activity states onto GStreamer states.
func toGstState(s pipeline.State) gst.State {
	switch s {
	case pipeline.StateReady:
		return gst.StateReady
	case pipeline.StatePaused:
		return gst.StatePaused
	case pipeline.StateActive:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

// Host wraps a gst.Pipeline as the pipeline.Host container.
type Host struct {
	pipe *gst.Pipeline
}

// NewHost creates the top-level pipeline container. Initializes GStreamer,
// which is safe to do more than once.
func NewHost() (*Host, error) {
	gst.Init(nil)

	pipe, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to create pipeline: %w", err)
	}
	return &Host{pipe: pipe}, nil
}

// Add inserts a bin into the pipeline.
func (h *Host) Add(b pipeline.Bin) error {
	gb, err := unwrapBin(b)
	if err != nil {
		return err
	}
	if err := h.pipe.Add(gb.bin.Element); err != nil {
		return fmt.Errorf("gstreamer: failed to add bin %q: %w", b.Name(), err)
	}
	return nil
}

// Remove takes a bin out of the pipeline, handing ownership back to the
// caller.
func (h *Host) Remove(b pipeline.Bin) error {
	gb, err := unwrapBin(b)
	if err != nil {
		return err
	}
	if err := h.pipe.Remove(gb.bin.Element); err != nil {
		return fmt.Errorf("gstreamer: failed to remove bin %q: %w", b.Name(), err)
	}
	return nil
}

// Contains reports whether the pipeline currently owns an element with the
// given name.
func (h *Host) Contains(name string) bool {
	elem, err := h.pipe.GetElementByName(name)
	return err == nil && elem != nil
}

// SetState requests a state transition for the whole pipeline.
func (h *Host) SetState(s pipeline.State) error {
	if err := h.pipe.SetState(toGstState(s)); err != nil {
		return fmt.Errorf("gstreamer: failed to set pipeline state %s: %w", s, err)
	}
	return nil
}

// LockState suspends pipeline state changes while the topology is mutated.
func (h *Host) LockState() error {
	if !h.pipe.SetLockedState(true) {
		return fmt.Errorf("gstreamer: unable to lock pipeline state")
	}
	return nil
}

// UnlockState resumes pipeline state changes.
func (h *Host) UnlockState() error {
	if !h.pipe.SetLockedState(false) {
		return fmt.Errorf("gstreamer: unable to unlock pipeline state")
	}
	return nil
}

// Events returns the pipeline bus filtered to errors and end-of-stream.
func (h *Host) Events() pipeline.EventSource {
	return &busEvents{bus: h.pipe.GetPipelineBus()}
}

// Close forces the pipeline to NULL, releasing all owned resources.
func (h *Host) Close() error {
	if err := h.pipe.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstreamer: failed to stop pipeline: %w", err)
	}
	return nil
}

// busEvents adapts the pipeline bus to pipeline.EventSource.
type busEvents struct {
	bus *gst.Bus
}

// Wait polls the bus for the next error or end-of-stream message. A zero
// timeout waits without bound.
func (b *busEvents) Wait(timeout time.Duration) (pipeline.Event, bool) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		poll := busPollInterval
		if !deadline.IsZero() {
			remain := time.Until(deadline)
			if remain <= 0 {
				return pipeline.Event{}, false
			}
			if remain < poll {
				poll = remain
			}
		}

		msg := b.bus.TimedPopFiltered(poll, gst.MessageError|gst.MessageEOS)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return pipeline.Event{
				Kind:  pipeline.EventError,
				Err:   fmt.Errorf("gstreamer: %s", gerr.Error()),
				Debug: gerr.DebugString(),
			}, true
		case gst.MessageEOS:
			return pipeline.Event{Kind: pipeline.EventEndOfStream}, true
		default:
			// The filter only passes errors and EOS; anything else means
			// the runtime broke its own contract. Surface it as-is and let
			// the caller treat it as fatal.
			return pipeline.Event{}, true
		}
	}
}

// binHandle wraps a gst.Bin as a pipeline.Bin.
type binHandle struct {
	bin *gst.Bin
}

func unwrapBin(b pipeline.Bin) (*binHandle, error) {
	gb, ok := b.(*binHandle)
	if !ok {
		return nil, fmt.Errorf("gstreamer: foreign bin implementation %T", b)
	}
	return gb, nil
}

// Name returns the runtime-assigned bin name.
func (b *binHandle) Name() string {
	return b.bin.GetName()
}

// StaticPort looks up a fixed boundary pad on the bin.
func (b *binHandle) StaticPort(name string) (pipeline.Port, error) {
	pad := b.bin.GetStaticPad(name)
	if pad == nil {
		return nil, fmt.Errorf("gstreamer: bin %q has no static pad %q", b.Name(), name)
	}
	return &portHandle{pad: pad}, nil
}

// RequestPort requests a fresh source pad from the named fan-out element
// inside the bin.
func (b *binHandle) RequestPort(element string) (pipeline.Port, error) {
	elem, err := b.bin.GetElementByName(element)
	if err != nil || elem == nil {
		return nil, fmt.Errorf("gstreamer: bin %q has no element %q", b.Name(), element)
	}

	pad := elem.GetRequestPad("src_%u")
	if pad == nil {
		return nil, fmt.Errorf("gstreamer: element %q refused a request pad", element)
	}
	return &portHandle{pad: pad}, nil
}

// ReleasePort returns a requested pad to the fan-out element.
func (b *binHandle) ReleasePort(element string, p pipeline.Port) error {
	gp, err := unwrapPort(p)
	if err != nil {
		return err
	}

	elem, err := b.bin.GetElementByName(element)
	if err != nil || elem == nil {
		return fmt.Errorf("gstreamer: bin %q has no element %q", b.Name(), element)
	}

	elem.ReleaseRequestPad(gp.pad)
	return nil
}

// Expose adds a ghost pad on the bin boundary forwarding the target pad.
func (b *binHandle) Expose(name string, target pipeline.Port) (pipeline.Port, error) {
	gp, err := unwrapPort(target)
	if err != nil {
		return nil, err
	}

	ghost := gst.NewGhostPad(name, gp.pad)
	if ghost == nil {
		return nil, fmt.Errorf("gstreamer: failed to create ghost pad %q", name)
	}
	ghost.SetActive(true)

	if !b.bin.AddPad(ghost.Pad) {
		return nil, fmt.Errorf("gstreamer: failed to add ghost pad %q to bin %q", name, b.Name())
	}
	return &portHandle{pad: ghost.Pad}, nil
}

// Conceal removes a previously exposed ghost pad from the bin boundary.
func (b *binHandle) Conceal(p pipeline.Port) error {
	gp, err := unwrapPort(p)
	if err != nil {
		return err
	}
	if !b.bin.RemovePad(gp.pad) {
		return fmt.Errorf("gstreamer: failed to remove pad %q from bin %q", p.Name(), b.Name())
	}
	return nil
}

// SetState requests a state transition for this bin only.
func (b *binHandle) SetState(s pipeline.State) error {
	if err := b.bin.SetState(toGstState(s)); err != nil {
		return fmt.Errorf("gstreamer: failed to set bin %q state %s: %w", b.Name(), s, err)
	}
	return nil
}

// portHandle wraps a gst.Pad as a pipeline.Port.
type portHandle struct {
	pad *gst.Pad
}

func unwrapPort(p pipeline.Port) (*portHandle, error) {
	gp, ok := p.(*portHandle)
	if !ok {
		return nil, fmt.Errorf("gstreamer: foreign port implementation %T", p)
	}
	return gp, nil
}

// Name returns the runtime-assigned pad name.
func (p *portHandle) Name() string {
	return p.pad.GetName()
}

// Link connects this pad to peer.
func (p *portHandle) Link(peer pipeline.Port) error {
	gp, err := unwrapPort(peer)
	if err != nil {
		return err
	}
	if ret := p.pad.Link(gp.pad); ret != gst.PadLinkOK {
		return fmt.Errorf("gstreamer: link %q -> %q returned %v", p.Name(), peer.Name(), ret)
	}
	return nil
}

// Unlink disconnects this pad from peer.
func (p *portHandle) Unlink(peer pipeline.Port) error {
	gp, err := unwrapPort(peer)
	if err != nil {
		return err
	}
	if !p.pad.Unlink(gp.pad) {
		return fmt.Errorf("gstreamer: unlink %q -> %q failed", p.Name(), peer.Name())
	}
	return nil
}

// Peer returns the currently linked pad, or nil.
func (p *portHandle) Peer() pipeline.Port {
	peer := p.pad.GetPeer()
	if peer == nil {
		return nil
	}
	return &portHandle{pad: peer}
}

// ingest wraps an appsrc element as the pipeline.Ingest push entry point.
//
// GStreamer only accepts one callback registration per appsrc, so the
// trampolines are installed once and route through handlers swapped under a
// short-lived lock. The callbacks fire on runtime threads and do nothing
// beyond invoking the registered handler.
type ingest struct {
	src *app.Source

	mu     sync.Mutex
	need   func()
	enough func()
}

func newIngest(elem *gst.Element) *ingest {
	i := &ingest{src: app.SrcFromElement(elem)}
	i.src.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc: func(_ *app.Source, _ uint) {
			i.mu.Lock()
			fn := i.need
			i.mu.Unlock()
			if fn != nil {
				fn()
			}
		},
		EnoughDataFunc: func(_ *app.Source) {
			i.mu.Lock()
			fn := i.enough
			i.mu.Unlock()
			if fn != nil {
				fn()
			}
		},
	})
	return i
}

// Push copies the buffer into a gst.Buffer, stamps PTS/DTS/duration and
// hands it to the appsrc.
func (i *ingest) Push(buf pipeline.Buffer) error {
	gbuf := gst.NewBufferFromBytes(buf.Data)
	if gbuf == nil {
		return fmt.Errorf("gstreamer: failed to allocate buffer")
	}
	gbuf.SetPresentationTimestamp(buf.PTS)
	gbuf.SetDecodingTimestamp(buf.DTS)
	gbuf.SetDuration(buf.Duration)

	if ret := i.src.PushBuffer(gbuf); ret != gst.FlowOK {
		return fmt.Errorf("gstreamer: push-buffer returned %v", ret)
	}
	return nil
}

// SetDemandCallbacks registers the flow-control handlers.
func (i *ingest) SetDemandCallbacks(need, enough func()) {
	i.mu.Lock()
	i.need = need
	i.enough = enough
	i.mu.Unlock()
}

// ClearDemandCallbacks unregisters the flow-control handlers.
func (i *ingest) ClearDemandCallbacks() {
	i.mu.Lock()
	i.need = nil
	i.enough = nil
	i.mu.Unlock()
}
