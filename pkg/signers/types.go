// Package signers implements the signer side of the workflow: invites
// with opaque share tokens, token resolution, the OTP challenge, and
// the per-signer data captured before commit. Raw share tokens and raw
// codes exist only in the delivery message; storage holds hashes.
package signers

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidLink        = errors.New("signers: link not found")
	ErrExpiredLink        = errors.New("signers: link expired")
	ErrLinkClosed         = errors.New("signers: link no longer accepts access")
	ErrSignerNotFound     = errors.New("signers: signer not found")
	ErrNoSigners          = errors.New("signers: at least one signer is required")
	ErrMissingContact     = errors.New("signers: signer requires a name and an email")
	ErrInvalidCpf         = errors.New("signers: cpf must have 11 digits")
	ErrNoRecipient        = errors.New("signers: no reachable recipient for any auth channel")
	ErrInvalidPosition    = errors.New("signers: position outside the document")
	ErrDocumentNotPending = errors.New("signers: document is not collecting signatures")
)

// Status is the signer lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusViewed   Status = "VIEWED"
	StatusSigned   Status = "SIGNED"
	StatusDeclined Status = "DECLINED"
	StatusExpired  Status = "EXPIRED"
)

// Closed reports whether the signer can no longer act on the document.
func (s Status) Closed() bool {
	return s == StatusSigned || s == StatusDeclined
}

// Channel is an out-of-band delivery route for links and codes.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
)

// Signer is one invited signatory of one document. Order is stored and
// returned for display; signing happens in any order.
type Signer struct {
	ID            string     `json:"id"`
	DocumentID    string     `json:"documentId"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	CPF           string     `json:"cpf,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Qualification string     `json:"qualification,omitempty"`
	AuthChannels  []Channel  `json:"authChannels"`
	Order         int        `json:"order"`
	Status        Status     `json:"status"`
	SignedAt      *time.Time `json:"signedAt,omitempty"`
	IP            string     `json:"ip,omitempty"`
	SignatureUUID string     `json:"signatureUuid,omitempty"`
	SignatureHash string     `json:"signatureHash,omitempty"`
	ArtefactPath  string     `json:"signatureArtefactPath,omitempty"`
	SignatureArt  string     `json:"signatureArt,omitempty"`
	PositionX     float64    `json:"positionX,omitempty"`
	PositionY     float64    `json:"positionY,omitempty"`
	PositionPage  int        `json:"positionPage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ShareToken authorizes one signer on one document. TokenHash is the
// SHA-256 of the raw token; the raw value is never stored.
type ShareToken struct {
	ID         string
	DocumentID string
	SignerID   string
	TokenHash  string
	ExpiresAt  time.Time
	TimesUsed  int
	CreatedAt  time.Time
}

// InviteInput describes one signer to invite.
type InviteInput struct {
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	CPF           string    `json:"cpf,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Qualification string    `json:"qualification,omitempty"`
	AuthChannels  []Channel `json:"authChannels,omitempty"`
	Order         int       `json:"order"`
}

func joinChannels(channels []Channel) string {
	parts := make([]string, 0, len(channels))
	for _, c := range channels {
		parts = append(parts, string(c))
	}
	return strings.Join(parts, ",")
}

func splitChannels(joined string) []Channel {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	channels := make([]Channel, 0, len(parts))
	for _, p := range parts {
		channels = append(channels, Channel(p))
	}
	return channels
}

// digitsOf strips everything but decimal digits.
func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
