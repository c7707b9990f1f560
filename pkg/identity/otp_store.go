package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/assinado-app/assinado/pkg/store"
)

const otpSchema = `
CREATE TABLE IF NOT EXISTS otp_codes (
	id         TEXT PRIMARY KEY,
	context    TEXT NOT NULL,
	recipient  TEXT NOT NULL,
	code_hash  TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_otp_lookup ON otp_codes (context, recipient, created_at);
`

// OTPStore persists hashed one-time codes for the signing, login and
// password-reset flows.
type OTPStore struct {
	db *store.DB
}

func NewOTPStore(db *store.DB) *OTPStore {
	return &OTPStore{db: db}
}

func (s *OTPStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, otpSchema); err != nil {
		return fmt.Errorf("identity: failed to init otp schema: %w", err)
	}
	return nil
}

// Create persists a minted code. The caller hashes before calling.
func (s *OTPStore) Create(ctx context.Context, otp *OTPCode) error {
	if otp.ID == "" {
		otp.ID = uuid.NewString()
	}
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO otp_codes (id, context, recipient, code_hash, attempts, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		otp.ID, string(otp.Context), otp.Recipient, otp.CodeHash, otp.Attempts,
		store.FormatTime(otp.ExpiresAt), store.FormatTime(otp.CreatedAt))
	if err != nil {
		return fmt.Errorf("identity: failed to insert otp: %w", err)
	}
	return nil
}

// FindLatest returns the most recent code in the given context whose
// recipient is one of recipients, or ErrOtpExpired when none exists.
func (s *OTPStore) FindLatest(ctx context.Context, otpContext OTPContext, recipients []string) (*OTPCode, error) {
	args := []any{string(otpContext)}
	placeholders := ""
	n := 0
	for _, r := range recipients {
		if r == "" {
			continue
		}
		n++
		if placeholders != "" {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", n+1)
		args = append(args, r)
	}
	if n == 0 {
		return nil, ErrOtpExpired
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, context, recipient, code_hash, attempts, expires_at, created_at
		 FROM otp_codes WHERE context = $1 AND recipient IN (`+placeholders+`)
		 ORDER BY created_at DESC LIMIT 1`, args...)

	var otp OTPCode
	var expiresAt, createdAt string
	err := row.Scan(&otp.ID, &otp.Context, &otp.Recipient, &otp.CodeHash, &otp.Attempts, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOtpExpired
		}
		return nil, fmt.Errorf("identity: failed to scan otp: %w", err)
	}
	otp.ExpiresAt = store.ParseTime(expiresAt)
	otp.CreatedAt = store.ParseTime(createdAt)
	return &otp, nil
}

// IncrementAttempts bumps the failure counter.
func (s *OTPStore) IncrementAttempts(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE otp_codes SET attempts = attempts + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("identity: failed to increment otp attempts: %w", err)
	}
	return nil
}

// Delete removes a redeemed or superseded code. Redemption must delete
// inside the same transaction as the write it authorizes.
func (s *OTPStore) Delete(ctx context.Context, dbtx store.DBTX, id string) error {
	if _, err := dbtx.ExecContext(ctx, `DELETE FROM otp_codes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("identity: failed to delete otp: %w", err)
	}
	return nil
}
