// dispatcher.go implements the ordered-fallback dispatch algorithm: try
// channels strictly in order, stop at the first success, collect a failure
// reason per failed attempt, and report overall failure only when every
// channel failed. Full failure is a recoverable condition — the caller gets a
// result, never a panic or a fatal error — and the dispatcher never touches
// the record store: committing the notified flag and the audit entry on
// success is the caller's job.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parkeerbeheer/permit-registry/internal/telemetry"
)

// DefaultChannelTimeout bounds a single channel attempt when the config does
// not say otherwise.
const DefaultChannelTimeout = 30 * time.Second

// Dispatcher sends a message through an ordered list of channels.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
}

// NewDispatcher creates a Dispatcher over the given channels, tried in slice
// order. timeout bounds each individual attempt; <= 0 uses
// DefaultChannelTimeout.
func NewDispatcher(channels []Channel, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultChannelTimeout
	}
	return &Dispatcher{channels: channels, timeout: timeout}
}

// Dispatch tries each channel in order until one succeeds. An attempt that
// neither succeeds nor fails within the per-channel timeout counts as a
// failure and the next channel is tried, so one hung mail server cannot
// stall a whole scan.
func (d *Dispatcher) Dispatch(ctx context.Context, recipient, subject, body string) DispatchResult {
	result := DispatchResult{}

	if len(d.channels) == 0 {
		result.Reason = "no notification channels configured"
		return result
	}

	for _, ch := range d.channels {
		err := d.sendWithTimeout(ctx, ch, recipient, subject, body)
		if err == nil {
			result.Success = true
			result.ChannelUsed = ch.Name()
			result.Attempts = append(result.Attempts, Attempt{Channel: ch.Name()})
			telemetry.NotificationsSentTotal.WithLabelValues(ch.Name()).Inc()
			return result
		}

		reason := err.Error()
		slog.Warn("notification channel attempt failed",
			"channel", ch.Name(), "recipient", recipient, "error", err)
		telemetry.ChannelFailuresTotal.WithLabelValues(ch.Name()).Inc()
		result.Attempts = append(result.Attempts, Attempt{Channel: ch.Name(), Err: reason})
		result.Reason = reason
	}

	telemetry.DispatchFailuresTotal.Inc()
	return result
}

// sendWithTimeout runs one channel attempt under the per-attempt deadline.
// The send runs in its own goroutine because not every mail transport honours
// context cancellation; when the deadline passes first, the attempt is
// counted as failed and the straggler goroutine's eventual result is
// discarded.
func (d *Dispatcher) sendWithTimeout(ctx context.Context, ch Channel, recipient, subject, body string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- ch.Send(attemptCtx, recipient, subject, body)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		return fmt.Errorf("channel %s: attempt timed out after %v: %w", ch.Name(), d.timeout, attemptCtx.Err())
	}
}
