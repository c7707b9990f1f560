// Package notify delivers transactional messages over email (Resend)
// and WhatsApp (Z-API). Per-tenant credentials override the
// process-wide ones when active and complete. Message bodies may carry
// one-time codes, so implementations never log payloads.
package notify

import (
	"context"
	"strings"
)

// EmailMessage is the only email shape the core sends.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
}

// WhatsAppMessage is the only WhatsApp shape the core sends.
type WhatsAppMessage struct {
	Phone   string
	Message string
}

// Sender is the delivery port. Callers treat failures as non-fatal.
type Sender interface {
	SendEmail(ctx context.Context, tenantID string, msg EmailMessage) error
	SendWhatsAppText(ctx context.Context, tenantID string, msg WhatsAppMessage) error
}

// NoopSender drops everything; used in tests and when no provider is
// configured.
type NoopSender struct{}

func (NoopSender) SendEmail(context.Context, string, EmailMessage) error { return nil }

func (NoopSender) SendWhatsAppText(context.Context, string, WhatsAppMessage) error { return nil }

// NormalizePhone reduces a phone number to digits and prefixes the
// Brazilian country code when the local form (10 or 11 digits) is
// given. Anything else is assumed to be already prefixed.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 || len(digits) == 11 {
		return "55" + digits
	}
	return digits
}

// RenderTemplate substitutes {{token}} placeholders by global string
// replacement.
func RenderTemplate(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

// MaskRecipient redacts an email or phone for audit payloads: first
// two characters, `***`, then the domain (email) or last two digits.
func MaskRecipient(recipient string) string {
	if at := strings.IndexByte(recipient, '@'); at > 0 {
		local := recipient[:at]
		if len(local) <= 2 {
			return local + "***" + recipient[at:]
		}
		return local[:2] + "***" + recipient[at:]
	}
	if len(recipient) <= 4 {
		return "***"
	}
	return recipient[:2] + "***" + recipient[len(recipient)-2:]
}
