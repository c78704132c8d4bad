package streampublish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/stream-publish/internal/gstreamer"
	"github.com/e7canasta/orion-care-sensor/modules/stream-publish/internal/pipeline"
)

// Re-exports from the internal pipeline package, following the convention
// of keeping the canonical types next to the code that produces them.
type (
	// Event is one diagnostic message from the media runtime.
	Event = pipeline.Event
	// EventKind identifies the diagnostic message kind.
	EventKind = pipeline.EventKind
)

const (
	// EventError is a fatal error raised inside the runtime graph.
	EventError = pipeline.EventError
	// EventEndOfStream signals that the stream has ended.
	EventEndOfStream = pipeline.EventEndOfStream
)

var (
	// ErrNotReady is the normal flow-control outcome: the graph does not
	// want data right now, retry with a later frame.
	ErrNotReady = pipeline.ErrNotReady
	// ErrEmptyFrame rejects zero-sized payloads.
	ErrEmptyFrame = pipeline.ErrEmptyFrame
	// ErrClosed is returned by operations on a closed publisher.
	ErrClosed = pipeline.ErrClosed
)

// eventPollInterval bounds each Monitor wait so the loop stays responsive
// to context cancellation.
const eventPollInterval = 50 * time.Millisecond

// RTMPPublisher implements FramePublisher on a GStreamer graph: one source
// subgraph ending in a fan-out point, plus a network (RTMP) branch and a
// local-display branch that attach to and detach from the live graph
// independently.
//
// Both branch handles live for the whole publisher lifetime. Detaching
// hands a branch back to the publisher rather than destroying it, so the
// same instance is re-attached on the next start call.
type RTMPPublisher struct {
	cfg   Config
	graph *pipeline.Graph

	// branch ownership slots; the graph owns a branch only while attached
	network *pipeline.Branch
	display *pipeline.Branch

	mu          sync.Mutex // guards activeSince
	activeSince time.Time

	framesRejected atomic.Uint64
	pushFailures   atomic.Uint64
	errorsNetwork  atomic.Uint64
	errorsCodec    atomic.Uint64
	errorsUnknown  atomic.Uint64
}

// NewRTMPPublisher validates cfg fail-fast and assembles the graph in idle
// state: source subgraph committed, both branches built but unlinked.
//
// Construction failures are unrecoverable for this publisher instance;
// nothing is left running when an error is returned.
func NewRTMPPublisher(cfg Config) (*RTMPPublisher, error) {
	cfg = cfg.withDefaults()

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("stream-publish: invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FrameRate < 1 || cfg.FrameRate > 60 {
		return nil, fmt.Errorf("stream-publish: invalid frame rate %d (must be 1-60)", cfg.FrameRate)
	}
	if err := validateStreamURL(cfg.RTMPURL); err != nil {
		return nil, err
	}

	if err := gstreamer.Available(); err != nil {
		return nil, fmt.Errorf("stream-publish: %w", err)
	}

	host, err := gstreamer.NewHost()
	if err != nil {
		return nil, fmt.Errorf("stream-publish: %w", err)
	}

	sourceBin, ingest, err := gstreamer.NewSourceBin(gstreamer.SourceConfig{
		Width:     cfg.Width,
		Height:    cfg.Height,
		FrameRate: cfg.FrameRate,
	})
	if err != nil {
		return nil, fmt.Errorf("stream-publish: %w", err)
	}

	networkBin, err := gstreamer.NewNetworkBin(gstreamer.NetworkConfig{
		Location:    cfg.RTMPURL,
		BitrateKbps: cfg.BitrateKbps,
		SpeedPreset: cfg.SpeedPreset,
	})
	if err != nil {
		return nil, fmt.Errorf("stream-publish: %w", err)
	}

	displayBin, err := gstreamer.NewDisplayBin()
	if err != nil {
		return nil, fmt.Errorf("stream-publish: %w", err)
	}

	graph, err := pipeline.NewGraph(host, sourceBin, ingest, gstreamer.FanoutElement, cfg.FrameRate)
	if err != nil {
		return nil, fmt.Errorf("stream-publish: %w", err)
	}

	p := &RTMPPublisher{
		cfg:     cfg,
		graph:   graph,
		network: pipeline.NewBranch(BranchNetwork.String(), networkBin),
		display: pipeline.NewBranch(BranchDisplay.String(), displayBin),
	}

	slog.Info("stream-publish: publisher created",
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"frame_rate", cfg.FrameRate,
		"rtmp_url", cfg.RTMPURL,
		"bitrate_kbps", cfg.BitrateKbps,
	)

	return p, nil
}

// validateStreamURL checks the URI-shaped network destination address: a
// scheme, a host, and a path whose final segment names the logical stream.
func validateStreamURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("stream-publish: RTMP URL is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("stream-publish: invalid RTMP URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("stream-publish: RTMP URL %q must include scheme and host", raw)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[len(segments)-1] == "" {
		return fmt.Errorf("stream-publish: RTMP URL %q must end in a stream name", raw)
	}
	return nil
}

// branch maps a kind to its ownership slot.
func (p *RTMPPublisher) branch(kind BranchKind) (*pipeline.Branch, error) {
	switch kind {
	case BranchNetwork:
		return p.network, nil
	case BranchDisplay:
		return p.display, nil
	default:
		return nil, fmt.Errorf("stream-publish: unknown branch kind %d", kind)
	}
}

// StartBranch attaches one branch to the live graph. Attaching a branch
// that is already connected is a no-op.
func (p *RTMPPublisher) StartBranch(kind BranchKind) error {
	b, err := p.branch(kind)
	if err != nil {
		return err
	}

	attached, err := p.graph.Attach(b)
	if err != nil {
		return fmt.Errorf("stream-publish: failed to start %s branch: %w", kind, err)
	}
	if attached {
		p.mu.Lock()
		if p.activeSince.IsZero() {
			p.activeSince = time.Now()
		}
		p.mu.Unlock()
	}
	return nil
}

// StopBranch detaches one branch from the live graph; the branch instance
// is retained for re-attachment. Detaching an absent branch is a no-op.
func (p *RTMPPublisher) StopBranch(kind BranchKind) error {
	if _, err := p.branch(kind); err != nil {
		return err
	}

	if _, _, err := p.graph.Detach(kind.String()); err != nil {
		return fmt.Errorf("stream-publish: failed to stop %s branch: %w", kind, err)
	}
	return nil
}

// StartStream attaches both branches. Each branch is attempted even if the
// other fails; errors are joined.
func (p *RTMPPublisher) StartStream() error {
	return errors.Join(
		p.StartBranch(BranchNetwork),
		p.StartBranch(BranchDisplay),
	)
}

// StopStream detaches both branches.
func (p *RTMPPublisher) StopStream() error {
	return errors.Join(
		p.StopBranch(BranchNetwork),
		p.StopBranch(BranchDisplay),
	)
}

// StartRTMPStream attaches the network branch only.
func (p *RTMPPublisher) StartRTMPStream() error { return p.StartBranch(BranchNetwork) }

// StopRTMPStream detaches the network branch only.
func (p *RTMPPublisher) StopRTMPStream() error { return p.StopBranch(BranchNetwork) }

// StartLocalStream attaches the local-display branch only.
func (p *RTMPPublisher) StartLocalStream() error { return p.StartBranch(BranchDisplay) }

// StopLocalStream detaches the local-display branch only.
func (p *RTMPPublisher) StopLocalStream() error { return p.StopBranch(BranchDisplay) }

// SendFrame normalizes a structured frame to the graph's RGB layout and
// submits it. See SendRaw for the submission outcomes.
func (p *RTMPPublisher) SendFrame(f Frame) error {
	if len(f.Data) == 0 {
		return ErrEmptyFrame
	}

	rgb, err := normalizeFrame(f)
	if err != nil {
		return err
	}
	return p.SendRaw(rgb)
}

// SendRaw submits a payload already in the graph's native pixel layout.
//
// ErrNotReady means the graph does not want data; drop the frame and retry
// with a later one. A push failure is retryable and never fatal to the
// graph. Both outcomes are tracked in Stats.
func (p *RTMPPublisher) SendRaw(data []byte) error {
	err := p.graph.Submit(data)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrNotReady):
		p.framesRejected.Add(1)
		return err
	case errors.Is(err, pipeline.ErrEmptyFrame), errors.Is(err, pipeline.ErrClosed):
		return err
	default:
		p.pushFailures.Add(1)
		slog.Warn("stream-publish: frame push failed", "error", err)
		return err
	}
}

// WaitEvent blocks up to timeout for the runtime to report a fatal error or
// end-of-stream. A zero timeout waits without bound; (nil, nil) means the
// timeout elapsed quietly. Either event kind is terminal for the graph.
func (p *RTMPPublisher) WaitEvent(timeout time.Duration) (*Event, error) {
	ev, err := p.graph.WaitEvent(timeout)
	if err != nil {
		return nil, fmt.Errorf("stream-publish: %w", err)
	}
	if ev != nil && ev.Kind == EventError {
		p.countError(*ev)
	}
	return ev, err
}

// CheckError reports whether an error or end-of-stream occurred within
// timeout. Convenience wrapper over WaitEvent for polling embedders.
func (p *RTMPPublisher) CheckError(timeout time.Duration) bool {
	ev, err := p.WaitEvent(timeout)
	return ev != nil || err != nil
}

// Monitor polls the diagnostic channel until a terminal event arrives or
// ctx is cancelled. Terminal events are logged, counted by category and
// returned as an error; cancellation returns nil.
//
// Intended to run on its own goroutine alongside the producer loop.
func (p *RTMPPublisher) Monitor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			slog.Debug("stream-publish: context cancelled, stopping monitor")
			return nil
		default:
		}

		ev, err := p.WaitEvent(eventPollInterval)
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}

		switch ev.Kind {
		case EventEndOfStream:
			slog.Info("stream-publish: end of stream reached",
				"uptime", p.uptime(),
				"frames_submitted", p.graph.Submitted(),
			)
			return fmt.Errorf("stream-publish: end of stream")
		case EventError:
			category := pipeline.ClassifyEvent(*ev)
			slog.Error("stream-publish: runtime error",
				"error", ev.Err,
				"debug", ev.Debug,
				"category", category.String(),
				"uptime", p.uptime(),
				"frames_submitted", p.graph.Submitted(),
			)
			return fmt.Errorf("stream-publish: runtime error [%s]: %w", category, ev.Err)
		}
	}
}

// countError updates the classified error counters.
func (p *RTMPPublisher) countError(ev Event) {
	switch pipeline.ClassifyEvent(ev) {
	case pipeline.CategoryNetwork:
		p.errorsNetwork.Add(1)
	case pipeline.CategoryCodec:
		p.errorsCodec.Add(1)
	default:
		p.errorsUnknown.Add(1)
	}
}

func (p *RTMPPublisher) uptime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeSince.IsZero() {
		return 0
	}
	return time.Since(p.activeSince)
}

// Stats returns a snapshot of publisher counters and branch state.
// Safe to call from any goroutine.
func (p *RTMPPublisher) Stats() PublisherStats {
	return PublisherStats{
		FramesSubmitted: p.graph.Submitted(),
		FramesRejected:  p.framesRejected.Load(),
		PushFailures:    p.pushFailures.Load(),
		NetworkAttached: p.graph.Attached(BranchNetwork.String()),
		DisplayAttached: p.graph.Attached(BranchDisplay.String()),
		Active:          p.graph.State() == pipeline.StateActive,
		Uptime:          p.uptime(),
		ErrorsNetwork:   p.errorsNetwork.Load(),
		ErrorsCodec:     p.errorsCodec.Load(),
		ErrorsUnknown:   p.errorsUnknown.Load(),
	}
}

// DebugInfo renders a human-readable dump of graph, branch and port state
// for operator troubleshooting. Not a stable machine interface.
func (p *RTMPPublisher) DebugInfo() string {
	return p.graph.DebugDump()
}

// Close detaches every branch, forces the graph to idle and releases all
// owned subgraphs. Idempotent.
func (p *RTMPPublisher) Close() error {
	if err := p.graph.Close(); err != nil {
		return fmt.Errorf("stream-publish: %w", err)
	}
	return nil
}
