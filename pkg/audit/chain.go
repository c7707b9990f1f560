package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/assinado-app/assinado/pkg/canonicalize"
	"github.com/assinado-app/assinado/pkg/crypto"
	"github.com/assinado-app/assinado/pkg/store"
)

// genesisHash anchors the first event of every entity chain. It is a
// fixed constant, not a secret: tamper evidence comes from the links,
// not from hiding the anchor.
var genesisHash = crypto.Sha256Hex([]byte("genesis_block_for_entity"))

// GenesisHash returns the prev hash expected on the first event of a chain.
func GenesisHash() string { return genesisHash }

// Chain appends hash-linked events. Append participates in the
// caller's transaction so an event is persisted iff the business
// write it describes commits.
type Chain struct {
	db     *store.DB
	logger *slog.Logger
	now    func() time.Time
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ChainOption {
	return func(c *Chain) { c.now = now }
}

// NewChain builds an appender over db.
func NewChain(db *store.DB, logger *slog.Logger, opts ...ChainOption) *Chain {
	c := &Chain{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// hashableFields flattens an event into the map that gets canonicalized
// and hashed. Field order does not matter: RFC 8785 sorts keys. Payload
// keys are layered over the fixed keys last, so a payload may not be
// crafted to shadow them without changing the hash.
func hashableFields(actorKind ActorKind, actorID string, entityType EntityType, entityID string, action Action, ip, userAgent string, payload map[string]any) map[string]any {
	m := map[string]any{
		"actorKind":  string(actorKind),
		"actorId":    actorID,
		"entityType": string(entityType),
		"entityId":   entityID,
		"action":     string(action),
		"ip":         ip,
		"userAgent":  userAgent,
	}
	for k, v := range payload {
		m[k] = v
	}
	return m
}

// computeEventHash derives the event hash from the previous hash, the
// canonicalized fields and the exact stored timestamp string.
func computeEventHash(prev string, fields map[string]any, createdAtRaw string) (string, error) {
	canonical, err := canonicalize.JCS(fields)
	if err != nil {
		return "", fmt.Errorf("audit: failed to canonicalize event: %w", err)
	}
	return crypto.Sha256Hex([]byte(prev + string(canonical) + createdAtRaw)), nil
}

// Append writes one event inside tx. It serializes on the entity id,
// reads the current chain head, links the new event to it and derives
// the event hash over the canonicalized fields plus the stored
// timestamp. The first event of an entity links to the genesis hash.
func (c *Chain) Append(ctx context.Context, tx store.DBTX, in Input) (*Event, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.ActorKind == "" {
		in.ActorKind = ActorSystem
	}

	if err := c.db.Dialect.AcquireEntityLock(ctx, tx, in.EntityID); err != nil {
		return nil, fmt.Errorf("audit: failed to lock entity chain: %w", err)
	}

	prev := genesisHash
	var seq int64 = 1
	head, err := chainHead(ctx, tx, in.EntityID)
	if err != nil {
		return nil, err
	}
	if head != nil {
		prev = head.eventHash
		seq = head.seq + 1
	}

	createdAt := c.now().UTC()
	createdAtRaw := store.FormatTime(createdAt)

	fields := hashableFields(in.ActorKind, in.ActorID, in.EntityType, in.EntityID, in.Action, in.IP, in.UserAgent, in.Payload)
	eventHash, err := computeEventHash(prev, fields, createdAtRaw)
	if err != nil {
		return nil, err
	}
	if eventHash == prev {
		return nil, fmt.Errorf("audit: event hash collided with previous hash for entity %s", in.EntityID)
	}

	var payloadJSON []byte
	if len(in.Payload) > 0 {
		payloadJSON, err = json.Marshal(in.Payload)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to encode payload: %w", err)
		}
	}

	ev := &Event{
		ID:            uuid.NewString(),
		TenantID:      in.TenantID,
		ActorKind:     in.ActorKind,
		ActorID:       in.ActorID,
		EntityType:    in.EntityType,
		EntityID:      in.EntityID,
		Action:        in.Action,
		IP:            in.IP,
		UserAgent:     in.UserAgent,
		Payload:       in.Payload,
		PrevEventHash: prev,
		EventHash:     eventHash,
		Seq:           seq,
		CreatedAt:     createdAt,
		createdAtRaw:  createdAtRaw,
	}
	if err := insertEvent(ctx, tx, ev, payloadJSON); err != nil {
		return nil, err
	}

	if c.logger != nil {
		c.logger.Debug("audit event appended",
			"entityType", ev.EntityType,
			"entityId", ev.EntityID,
			"action", ev.Action,
			"seq", ev.Seq,
		)
	}
	return ev, nil
}

// AppendTx runs Append inside its own transaction, for events that do
// not ride along with a business write.
func (c *Chain) AppendTx(ctx context.Context, in Input) (*Event, error) {
	var ev *Event
	err := store.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		var err error
		ev, err = c.Append(ctx, tx, in)
		return err
	})
	return ev, err
}
