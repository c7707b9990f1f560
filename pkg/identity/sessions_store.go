package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/assinado-app/assinado/pkg/crypto"
	"github.com/assinado-app/assinado/pkg/store"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	refresh_token_hash TEXT NOT NULL,
	ip                 TEXT NOT NULL DEFAULT '',
	user_agent         TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	expires_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id);
`

// SessionStore persists refresh sessions by token hash. The raw token
// never reaches this store.
type SessionStore struct {
	db *store.DB
}

func NewSessionStore(db *store.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sessionSchema); err != nil {
		return fmt.Errorf("identity: failed to init session schema: %w", err)
	}
	return nil
}

// Create records a session for an issued refresh token.
func (s *SessionStore) Create(ctx context.Context, userID, rawRefreshToken, ip, userAgent string, expiresAt time.Time) (*Session, error) {
	session := &Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		RefreshTokenHash: crypto.HashToken(rawRefreshToken),
		IP:               ip,
		UserAgent:        userAgent,
		CreatedAt:        time.Now().UTC(),
		ExpiresAt:        expiresAt,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, refresh_token_hash, ip, user_agent, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.UserID, session.RefreshTokenHash, session.IP, session.UserAgent,
		store.FormatTime(session.CreatedAt), store.FormatTime(session.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("identity: failed to insert session: %w", err)
	}
	return session, nil
}

// FindMatching walks the user's sessions and compares each stored hash
// against the presented token's hash in constant time. Returns
// ErrSessionInvalid when nothing matches.
func (s *SessionStore) FindMatching(ctx context.Context, userID, rawRefreshToken string) (*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, refresh_token_hash, ip, user_agent, created_at, expires_at
		 FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("identity: failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	presented := []byte(crypto.HashToken(rawRefreshToken))
	var match *Session
	for rows.Next() {
		var sess Session
		var createdAt, expiresAt string
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.RefreshTokenHash,
			&sess.IP, &sess.UserAgent, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("identity: failed to scan session: %w", err)
		}
		sess.CreatedAt = store.ParseTime(createdAt)
		sess.ExpiresAt = store.ParseTime(expiresAt)
		if subtle.ConstantTimeCompare(presented, []byte(sess.RefreshTokenHash)) == 1 {
			copied := sess
			match = &copied
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: failed to iterate sessions: %w", err)
	}
	if match == nil {
		return nil, ErrSessionInvalid
	}
	return match, nil
}

// Delete removes one session; deleting an absent id is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("identity: failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired clears sessions past their expiry; called by the
// scheduler alongside document expiry.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, store.FormatTime(now.UTC()))
	if err != nil {
		return 0, fmt.Errorf("identity: failed to delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
