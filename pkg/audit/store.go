package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/assinado-app/assinado/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL DEFAULT '',
	actor_kind      TEXT NOT NULL,
	actor_id        TEXT NOT NULL DEFAULT '',
	entity_type     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	action          TEXT NOT NULL,
	ip              TEXT NOT NULL DEFAULT '',
	user_agent      TEXT NOT NULL DEFAULT '',
	payload_json    TEXT,
	prev_event_hash TEXT NOT NULL,
	event_hash      TEXT NOT NULL UNIQUE,
	seq             INTEGER NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_logs (entity_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_logs (tenant_id, created_at);
`

// Store reads persisted audit rows. Writes go through Chain.Append so
// every row is hash-linked; there is deliberately no bare insert here.
type Store struct {
	db *store.DB
}

// NewStore builds a reader over db.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Init creates the audit tables.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("audit: failed to init schema: %w", err)
	}
	return nil
}

const eventColumns = `id, tenant_id, actor_kind, actor_id, entity_type, entity_id,
	action, ip, user_agent, payload_json, prev_event_hash, event_hash, seq, created_at`

type chainHeadRow struct {
	eventHash string
	seq       int64
}

// chainHead returns the latest event for an entity, or nil for a fresh
// chain. Must run inside the same transaction as the insert that
// follows, after the entity lock is held.
func chainHead(ctx context.Context, tx store.DBTX, entityID string) (*chainHeadRow, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT event_hash, seq FROM audit_logs WHERE entity_id = $1 ORDER BY seq DESC LIMIT 1`,
		entityID)
	var head chainHeadRow
	if err := row.Scan(&head.eventHash, &head.seq); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: failed to read chain head: %w", err)
	}
	return &head, nil
}

func insertEvent(ctx context.Context, tx store.DBTX, ev *Event, payloadJSON []byte) error {
	var payload any
	if len(payloadJSON) > 0 {
		payload = string(payloadJSON)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO audit_logs (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ev.ID, ev.TenantID, string(ev.ActorKind), ev.ActorID, string(ev.EntityType), ev.EntityID,
		string(ev.Action), ev.IP, ev.UserAgent, payload, ev.PrevEventHash, ev.EventHash, ev.Seq,
		ev.createdAtRaw)
	if err != nil {
		return fmt.Errorf("audit: failed to insert event: %w", err)
	}
	return nil
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var ev Event
	var payloadJSON sql.NullString
	var createdAtRaw string
	if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.ActorKind, &ev.ActorID, &ev.EntityType,
		&ev.EntityID, &ev.Action, &ev.IP, &ev.UserAgent, &payloadJSON, &ev.PrevEventHash,
		&ev.EventHash, &ev.Seq, &createdAtRaw); err != nil {
		return nil, fmt.Errorf("audit: failed to scan event: %w", err)
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &ev.Payload); err != nil {
			return nil, fmt.Errorf("audit: failed to decode payload of event %s: %w", ev.ID, err)
		}
	}
	ev.createdAtRaw = createdAtRaw
	ev.CreatedAt = store.ParseTime(createdAtRaw)
	return &ev, nil
}

func collectEvents(rows *sql.Rows) ([]*Event, error) {
	defer func() { _ = rows.Close() }()
	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to iterate events: %w", err)
	}
	return events, nil
}

// ListByEntity returns one entity's chain in append order.
func (s *Store) ListByEntity(ctx context.Context, entityID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM audit_logs WHERE entity_id = $1 ORDER BY created_at ASC, seq ASC`,
		entityID)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list events: %w", err)
	}
	return collectEvents(rows)
}

// ListForDocument returns the events covering one document's signing
// workflow: the document's own chain plus any events logged against its
// signers, in chronological order.
func (s *Store) ListForDocument(ctx context.Context, documentID string, signerIDs []string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_logs
		WHERE (entity_type = 'DOCUMENT' AND entity_id = $1)`
	args := []any{documentID}
	if len(signerIDs) > 0 {
		placeholders := make([]string, len(signerIDs))
		for i, id := range signerIDs {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, id)
		}
		query += ` OR (entity_type = 'SIGNER' AND entity_id IN (` + strings.Join(placeholders, ", ") + `))`
	}
	query += ` ORDER BY created_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list document events: %w", err)
	}
	return collectEvents(rows)
}
