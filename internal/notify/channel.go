// Package notify implements multi-channel notification delivery. Channels
// are polymorphic over a single send capability so they can be added,
// reordered, or mocked in tests independently of the dispatcher's fallback
// control flow. Two concrete channels ship with the registry: a rich mail
// client (gomail) and a direct SMTP submission fallback.
package notify

import (
	"context"
	"fmt"

	"github.com/parkeerbeheer/permit-registry/internal/config"
)

// Channel is one concrete delivery mechanism.
type Channel interface {
	// Name returns the channel identifier used in config, logs, audit
	// metadata, and metrics (e.g. "mailclient", "smtp").
	Name() string
	// Send delivers one message. Implementations must respect ctx
	// cancellation where their transport allows it; the dispatcher
	// additionally bounds every attempt with a timeout.
	Send(ctx context.Context, recipient, subject, body string) error
}

// Attempt records the outcome of one channel try, for diagnostics.
type Attempt struct {
	Channel string `json:"channel"`
	Err     string `json:"error,omitempty"`
}

// DispatchResult is the outcome of trying the ordered channel list.
type DispatchResult struct {
	// Success is true when some channel confirmed delivery.
	Success bool
	// ChannelUsed identifies the successful channel; empty on full failure.
	ChannelUsed string
	// Reason holds the last failure reason when Success is false.
	Reason string
	// Attempts lists every channel tried, in order, with per-channel
	// failure reasons.
	Attempts []Attempt
}

// BuildChannels constructs the configured channel list in dispatch order.
// Unknown channel kinds are rejected here rather than at dispatch time.
func BuildChannels(cfg *config.NotificationsConfig) ([]Channel, error) {
	channels := make([]Channel, 0, len(cfg.Channels))
	for _, kind := range cfg.Channels {
		switch kind {
		case "mailclient":
			channels = append(channels, NewMailClientChannel(&cfg.SMTP))
		case "smtp":
			channels = append(channels, NewSMTPChannel(&cfg.SMTP))
		default:
			return nil, fmt.Errorf("unknown notification channel kind: %s", kind)
		}
	}
	return channels, nil
}
