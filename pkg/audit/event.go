// Package audit implements the tamper-evident audit trail: an
// append-only, per-entity hash-linked event log with a recomputable
// verification procedure. Two distinct entities have independent
// chains; verification proves no row inside one entity's chain was
// modified, reordered, or excised.
package audit

import (
	"errors"
	"time"
)

var (
	ErrMissingEntity = errors.New("audit: event requires an entity id")
	ErrMissingAction = errors.New("audit: event requires an action")
)

// ActorKind identifies who caused an event.
type ActorKind string

const (
	ActorUser   ActorKind = "USER"
	ActorSigner ActorKind = "SIGNER"
	ActorSystem ActorKind = "SYSTEM"
)

// EntityType identifies what an event is about. The chain is scoped by
// entity id alone; the type travels with the event and is hashed.
type EntityType string

const (
	EntityDocument EntityType = "DOCUMENT"
	EntitySigner   EntityType = "SIGNER"
	EntityToken    EntityType = "TOKEN"
	EntityOTP      EntityType = "OTP"
	EntityStorage  EntityType = "STORAGE"
	EntitySystem   EntityType = "SYSTEM"
	EntityUser     EntityType = "USER"
	EntityTenant   EntityType = "TENANT"
)

// Action is the enumerated event verb.
type Action string

const (
	ActionUserCreated       Action = "USER_CREATED"
	ActionLoginSuccess      Action = "LOGIN_SUCCESS"
	ActionStorageUploaded   Action = "STORAGE_UPLOADED"
	ActionStatusChanged     Action = "STATUS_CHANGED"
	ActionViewed            Action = "VIEWED"
	ActionOtpSent           Action = "OTP_SENT"
	ActionOtpVerified       Action = "OTP_VERIFIED"
	ActionOtpFailed         Action = "OTP_FAILED"
	ActionSigned            Action = "SIGNED"
	ActionCertificateIssued Action = "CERTIFICATE_ISSUED"
	ActionDownloaded        Action = "DOWNLOADED"
	ActionMemberInvited     Action = "MEMBER_INVITED"
	ActionMemberResponded   Action = "MEMBER_RESPONDED"
)

// Event is one persisted, tamper-evident audit row.
type Event struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenantId"`
	ActorKind     ActorKind      `json:"actorKind"`
	ActorID       string         `json:"actorId,omitempty"`
	EntityType    EntityType     `json:"entityType"`
	EntityID      string         `json:"entityId"`
	Action        Action         `json:"action"`
	IP            string         `json:"ip,omitempty"`
	UserAgent     string         `json:"userAgent,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	PrevEventHash string         `json:"prevEventHash"`
	EventHash     string         `json:"eventHash"`
	Seq           int64          `json:"seq"`
	CreatedAt     time.Time      `json:"createdAt"`

	// createdAtRaw is the exact stored timestamp string that entered the
	// hash; recomputation must use it, not a re-rendering of CreatedAt.
	createdAtRaw string
}

// CreatedAtRaw exposes the hashed timestamp string for verification.
func (e *Event) CreatedAtRaw() string { return e.createdAtRaw }

// Input describes an event to append. TenantID, EntityType, EntityID
// and Action are required; the rest is optional context.
type Input struct {
	TenantID   string
	ActorKind  ActorKind
	ActorID    string
	EntityType EntityType
	EntityID   string
	Action     Action
	IP         string
	UserAgent  string
	Payload    map[string]any
}

func (in Input) validate() error {
	if in.EntityID == "" {
		return ErrMissingEntity
	}
	if in.Action == "" {
		return ErrMissingAction
	}
	return nil
}
