package streampublish

import (
	"context"
	"errors"
	"time"
)

// RetryConfig controls paced resubmission while the graph reports it does
// not want data.
type RetryConfig struct {
	// MaxAttempts is the number of submissions tried before giving up.
	MaxAttempts int
	// Delay is the wait after the first rejected attempt.
	Delay time.Duration
	// MaxDelay caps the doubling backoff between attempts.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns pacing suited to a 30 fps producer: the total
// worst-case wait stays under one frame interval.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		Delay:       2 * time.Millisecond,
		MaxDelay:    16 * time.Millisecond,
	}
}

// RawSender submits native-layout payloads. Satisfied by FramePublisher.
type RawSender interface {
	SendRaw(data []byte) error
}

// SendRawWhenReady submits data, retrying with doubling backoff while the
// only obstacle is flow control (ErrNotReady). Any other error, including a
// push failure, is returned immediately; the demand flag is
// level-triggered, so each attempt re-reads it.
//
// Returns ErrNotReady when the graph still wants no data after
// cfg.MaxAttempts, and ctx.Err() when cancelled mid-backoff.
func SendRawWhenReady(ctx context.Context, s RawSender, data []byte, cfg RetryConfig) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	delay := cfg.Delay
	for attempt := 1; ; attempt++ {
		err := s.SendRaw(data)
		if !errors.Is(err, ErrNotReady) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			return err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
