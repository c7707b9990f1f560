package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/store"
)

const userSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	cpf           TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_cpf ON users (cpf) WHERE cpf != '';
CREATE INDEX IF NOT EXISTS idx_users_tenant ON users (tenant_id, status);
`

// UserStore persists accounts.
type UserStore struct {
	db *store.DB
}

func NewUserStore(db *store.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, userSchema); err != nil {
		return fmt.Errorf("identity: failed to init user schema: %w", err)
	}
	return nil
}

const userColumns = `id, tenant_id, name, email, password_hash, cpf, phone, role, status, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.TenantID, &u.Name, &u.Email, &u.PasswordHash,
		&u.CPF, &u.Phone, &u.Role, &u.Status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("identity: failed to scan user: %w", err)
	}
	u.CreatedAt = store.ParseTime(createdAt)
	return &u, nil
}

// Create inserts a user inside dbtx. Unique violations surface as
// ErrEmailInUse; callers that care about cpf collisions check first.
func (s *UserStore) Create(ctx context.Context, dbtx store.DBTX, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := dbtx.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.TenantID, u.Name, u.Email, u.PasswordHash,
		u.CPF, u.Phone, string(u.Role), string(u.Status), store.FormatTime(u.CreatedAt))
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrEmailInUse
		}
		return fmt.Errorf("identity: failed to insert user: %w", err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *UserStore) GetByCPF(ctx context.Context, cpf string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE cpf = $1 AND cpf != ''`, cpf)
	return scanUser(row)
}

// UpdatePassword replaces the password hash inside dbtx.
func (s *UserStore) UpdatePassword(ctx context.Context, dbtx store.DBTX, userID, passwordHash string) error {
	res, err := dbtx.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("identity: failed to update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *UserStore) UpdateStatus(ctx context.Context, userID string, status UserStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET status = $1 WHERE id = $2`, string(status), userID)
	if err != nil {
		return fmt.Errorf("identity: failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CountActiveOwned is the user half of plan occupancy: ACTIVE accounts
// whose personal tenant is the given one.
func (s *UserStore) CountActiveOwned(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND status = 'ACTIVE'`,
		tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("identity: failed to count users: %w", err)
	}
	return n, nil
}

// UserName resolves a display name for document listings.
func (s *UserStore) UserName(ctx context.Context, userID string) (string, error) {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Name, nil
}

// ActiveUserEmail resolves a credential subject for the authenticate
// middleware. active is false for blocked or missing accounts.
func (s *UserStore) ActiveUserEmail(ctx context.Context, userID string) (string, bool, error) {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return u.Email, u.Status == UserActive, nil
}

var _ auth.UserLoader = (*UserStore)(nil)
