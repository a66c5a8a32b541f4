// mailclient.go implements the rich primary mail channel on top of gomail,
// which handles MIME headers, encoding, and the SMTP dialog in one call.
package notify

import (
	"context"
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/parkeerbeheer/permit-registry/internal/config"
)

// MailClientChannel delivers plain-text mail through gomail.
type MailClientChannel struct {
	cfg *config.SMTPConfig
}

// NewMailClientChannel creates the gomail-backed channel.
func NewMailClientChannel(cfg *config.SMTPConfig) *MailClientChannel {
	return &MailClientChannel{cfg: cfg}
}

// Name implements Channel.
func (c *MailClientChannel) Name() string { return "mailclient" }

// Send implements Channel. gomail's dialer does not take a context; the
// dispatcher's per-attempt timeout bounds the call instead.
func (c *MailClientChannel) Send(_ context.Context, recipient, subject, body string) error {
	if c.cfg.Host == "" {
		return fmt.Errorf("mailclient: smtp host not configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.cfg.From)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(c.cfg.Host, c.cfg.Port, c.cfg.Username, c.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("mailclient: send to %s: %w", recipient, err)
	}
	return nil
}
