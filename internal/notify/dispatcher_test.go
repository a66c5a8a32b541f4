package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parkeerbeheer/permit-registry/internal/config"
)

// fakeChannel records whether it was called and returns a scripted outcome.
type fakeChannel struct {
	name   string
	err    error
	block  bool // never return until the context is cancelled
	called int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, _, _, _ string) error {
	f.called++
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func TestDispatch_FirstChannelSucceeds(t *testing.T) {
	primary := &fakeChannel{name: "mailclient"}
	fallback := &fakeChannel{name: "smtp"}
	d := NewDispatcher([]Channel{primary, fallback}, time.Second)

	res := d.Dispatch(context.Background(), "ops@example.com", "s", "b")
	if !res.Success {
		t.Fatalf("Success = false, reason %q", res.Reason)
	}
	if res.ChannelUsed != "mailclient" {
		t.Errorf("ChannelUsed = %q, want mailclient", res.ChannelUsed)
	}
	if fallback.called != 0 {
		t.Error("fallback must not be tried after a success")
	}
}

func TestDispatch_FallbackAfterPrimaryFailure(t *testing.T) {
	primary := &fakeChannel{name: "mailclient", err: errors.New("relay refused")}
	fallback := &fakeChannel{name: "smtp"}
	d := NewDispatcher([]Channel{primary, fallback}, time.Second)

	res := d.Dispatch(context.Background(), "ops@example.com", "s", "b")
	if !res.Success {
		t.Fatalf("Success = false, reason %q", res.Reason)
	}
	if res.ChannelUsed != "smtp" {
		t.Errorf("ChannelUsed = %q, want smtp (fallback identifier)", res.ChannelUsed)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("Attempts = %d, want 2", len(res.Attempts))
	}
	if res.Attempts[0].Err == "" {
		t.Error("failed primary attempt should carry its reason")
	}
	if res.Attempts[1].Err != "" {
		t.Error("successful fallback attempt should carry no error")
	}
}

func TestDispatch_AllChannelsFail(t *testing.T) {
	primary := &fakeChannel{name: "mailclient", err: errors.New("relay refused")}
	fallback := &fakeChannel{name: "smtp", err: errors.New("connection reset")}
	d := NewDispatcher([]Channel{primary, fallback}, time.Second)

	res := d.Dispatch(context.Background(), "ops@example.com", "s", "b")
	if res.Success {
		t.Fatal("Success = true, want overall failure")
	}
	if res.ChannelUsed != "" {
		t.Errorf("ChannelUsed = %q, want empty on failure", res.ChannelUsed)
	}
	if res.Reason != "connection reset" {
		t.Errorf("Reason = %q, want last failure reason", res.Reason)
	}
	if len(res.Attempts) != 2 {
		t.Errorf("Attempts = %d, want 2", len(res.Attempts))
	}
}

func TestDispatch_ChannelOrderStrict(t *testing.T) {
	var order []string
	mk := func(name string) Channel {
		return channelFunc{name: name, fn: func() error {
			order = append(order, name)
			return errors.New("fail")
		}}
	}
	d := NewDispatcher([]Channel{mk("a"), mk("b"), mk("c")}, time.Second)
	d.Dispatch(context.Background(), "r", "s", "b")

	want := []string{"a", "b", "c"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

type channelFunc struct {
	name string
	fn   func() error
}

func (c channelFunc) Name() string                                    { return c.name }
func (c channelFunc) Send(context.Context, string, string, string) error { return c.fn() }

func TestDispatch_HungChannelTimesOutAndFallsBack(t *testing.T) {
	hung := &fakeChannel{name: "mailclient", block: true}
	fallback := &fakeChannel{name: "smtp"}
	d := NewDispatcher([]Channel{hung, fallback}, 20*time.Millisecond)

	start := time.Now()
	res := d.Dispatch(context.Background(), "ops@example.com", "s", "b")
	if !res.Success || res.ChannelUsed != "smtp" {
		t.Fatalf("result = %+v, want smtp success after timeout", res)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("dispatch took %v, the hung channel stalled the scan", elapsed)
	}
}

func TestDispatch_NoChannelsConfigured(t *testing.T) {
	d := NewDispatcher(nil, time.Second)
	res := d.Dispatch(context.Background(), "r", "s", "b")
	if res.Success {
		t.Fatal("Success = true with no channels")
	}
	if res.Reason == "" {
		t.Error("expected a reason for the empty channel list")
	}
}

func TestBuildChannels_OrderPreserved(t *testing.T) {
	cfg := &config.NotificationsConfig{
		Channels: []string{"smtp", "mailclient"},
		SMTP:     config.SMTPConfig{Host: "mail.example.com"},
	}
	channels, err := BuildChannels(cfg)
	if err != nil {
		t.Fatalf("BuildChannels: %v", err)
	}
	if len(channels) != 2 || channels[0].Name() != "smtp" || channels[1].Name() != "mailclient" {
		t.Errorf("channels = %v, want [smtp mailclient]", channels)
	}
}

func TestBuildChannels_UnknownKind(t *testing.T) {
	cfg := &config.NotificationsConfig{Channels: []string{"carrier-pigeon"}}
	if _, err := BuildChannels(cfg); err == nil {
		t.Fatal("expected error for unknown channel kind")
	}
}
