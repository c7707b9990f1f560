package signers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/assinado-app/assinado/pkg/store"
)

const shareTokenSchema = `
CREATE TABLE IF NOT EXISTS share_tokens (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	signer_id   TEXT NOT NULL,
	token_hash  TEXT NOT NULL UNIQUE,
	expires_at  TEXT NOT NULL,
	times_used  INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_share_tokens_signer ON share_tokens (signer_id);
`

// TokenStore persists share-token hashes. The raw token never reaches
// this layer.
type TokenStore struct {
	db *store.DB
}

func NewTokenStore(db *store.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, shareTokenSchema); err != nil {
		return fmt.Errorf("signers: failed to init share token schema: %w", err)
	}
	return nil
}

// Create inserts the token row inside dbtx.
func (s *TokenStore) Create(ctx context.Context, dbtx store.DBTX, t *ShareToken) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := dbtx.ExecContext(ctx,
		`INSERT INTO share_tokens (id, document_id, signer_id, token_hash, expires_at, times_used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.DocumentID, t.SignerID, t.TokenHash,
		store.FormatTime(t.ExpiresAt), t.TimesUsed, store.FormatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("signers: failed to insert share token: %w", err)
	}
	return nil
}

// FindByHash resolves a presented token's digest, or ErrInvalidLink.
func (s *TokenStore) FindByHash(ctx context.Context, tokenHash string) (*ShareToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, signer_id, token_hash, expires_at, times_used, created_at
		 FROM share_tokens WHERE token_hash = $1`, tokenHash)
	var t ShareToken
	var expiresAt, createdAt string
	err := row.Scan(&t.ID, &t.DocumentID, &t.SignerID, &t.TokenHash, &expiresAt, &t.TimesUsed, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidLink
		}
		return nil, fmt.Errorf("signers: failed to scan share token: %w", err)
	}
	t.ExpiresAt = store.ParseTime(expiresAt)
	t.CreatedAt = store.ParseTime(createdAt)
	return &t, nil
}

// IncrementUse counts one successful resolve.
func (s *TokenStore) IncrementUse(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE share_tokens SET times_used = times_used + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("signers: failed to increment token use: %w", err)
	}
	return nil
}
