package pipeline

import (
	"errors"
	"strings"
)

var (
	// ErrNotReady is returned by Submit when the runtime has not asked for
	// data. This is the normal flow-control outcome, not a failure; the
	// producer should retry on a later frame.
	ErrNotReady = errors.New("graph does not want data")

	// ErrEmptyFrame is returned by Submit for a zero-sized payload.
	ErrEmptyFrame = errors.New("frame payload is empty")

	// ErrClosed is returned by operations on a closed graph.
	ErrClosed = errors.New("graph is closed")

	// ErrUnexpectedEvent is returned by WaitEvent when the pre-filtered
	// diagnostic channel delivers a message kind it must never carry.
	ErrUnexpectedEvent = errors.New("unexpected message kind on diagnostic channel")
)

// ErrorCategory classifies runtime-reported errors for telemetry.
type ErrorCategory int

const (
	// CategoryNetwork indicates transport failures (connection, timeout, DNS).
	CategoryNetwork ErrorCategory = iota
	// CategoryCodec indicates encode/mux failures (negotiation, format).
	CategoryCodec
	// CategoryUnknown indicates unclassified errors.
	CategoryUnknown
)

// String returns a human-readable category name.
func (c ErrorCategory) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryCodec:
		return "codec"
	case CategoryUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// ClassifyEvent categorizes a runtime error event for telemetry.
//
// This distinguishes transport problems (the destination may come back) from
// encode/mux problems (a restart is unlikely to help). Classification is
// heuristic, based on the error message and debug text the runtime attaches.
func ClassifyEvent(ev Event) ErrorCategory {
	if ev.Kind != EventError || ev.Err == nil {
		return CategoryUnknown
	}

	combined := strings.ToLower(ev.Err.Error() + " " + ev.Debug)

	if containsAny(combined,
		"connection", "timeout", "unreachable", "network", "dns", "resolve",
		"socket", "tcp", "rtmp", "could not connect", "failed to connect",
		"connection refused", "broken pipe",
	) {
		return CategoryNetwork
	}

	if containsAny(combined,
		"codec", "encode", "decode", "format", "negotiation", "caps",
		"x264", "h264", "flv", "mux", "negotiated", "missing plugin",
	) {
		return CategoryCodec
	}

	return CategoryUnknown
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
