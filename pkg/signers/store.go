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

const signerSchema = `
CREATE TABLE IF NOT EXISTS signers (
	id                      TEXT PRIMARY KEY,
	document_id             TEXT NOT NULL,
	name                    TEXT NOT NULL,
	email                   TEXT NOT NULL,
	cpf                     TEXT NOT NULL DEFAULT '',
	phone                   TEXT NOT NULL DEFAULT '',
	qualification           TEXT NOT NULL DEFAULT '',
	auth_channels           TEXT NOT NULL DEFAULT '',
	sign_order              INTEGER NOT NULL DEFAULT 0,
	status                  TEXT NOT NULL,
	signed_at               TEXT NOT NULL DEFAULT '',
	ip                      TEXT NOT NULL DEFAULT '',
	signature_uuid          TEXT NOT NULL DEFAULT '',
	signature_hash          TEXT NOT NULL DEFAULT '',
	signature_artefact_path TEXT NOT NULL DEFAULT '',
	signature_art           TEXT NOT NULL DEFAULT '',
	position_x              REAL NOT NULL DEFAULT 0,
	position_y              REAL NOT NULL DEFAULT 0,
	position_page           INTEGER NOT NULL DEFAULT 0,
	created_at              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signers_document ON signers (document_id, sign_order);
`

// Store persists signers.
type Store struct {
	db *store.DB
}

func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, signerSchema); err != nil {
		return fmt.Errorf("signers: failed to init schema: %w", err)
	}
	return nil
}

const signerColumns = `id, document_id, name, email, cpf, phone, qualification, auth_channels, sign_order, status, signed_at, ip, signature_uuid, signature_hash, signature_artefact_path, signature_art, position_x, position_y, position_page, created_at`

func scanSigner(row interface{ Scan(...any) error }) (*Signer, error) {
	var sg Signer
	var channels, signedAt, createdAt string
	err := row.Scan(&sg.ID, &sg.DocumentID, &sg.Name, &sg.Email, &sg.CPF, &sg.Phone,
		&sg.Qualification, &channels, &sg.Order, &sg.Status, &signedAt, &sg.IP,
		&sg.SignatureUUID, &sg.SignatureHash, &sg.ArtefactPath, &sg.SignatureArt,
		&sg.PositionX, &sg.PositionY, &sg.PositionPage, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSignerNotFound
		}
		return nil, fmt.Errorf("signers: failed to scan signer: %w", err)
	}
	sg.AuthChannels = splitChannels(channels)
	if signedAt != "" {
		t := store.ParseTime(signedAt)
		sg.SignedAt = &t
	}
	sg.CreatedAt = store.ParseTime(createdAt)
	return &sg, nil
}

// Create inserts the signer inside dbtx.
func (s *Store) Create(ctx context.Context, dbtx store.DBTX, sg *Signer) error {
	if sg.ID == "" {
		sg.ID = uuid.NewString()
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = time.Now().UTC()
	}
	signedAt := ""
	if sg.SignedAt != nil {
		signedAt = store.FormatTime(*sg.SignedAt)
	}
	_, err := dbtx.ExecContext(ctx,
		`INSERT INTO signers (`+signerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		sg.ID, sg.DocumentID, sg.Name, sg.Email, sg.CPF, sg.Phone, sg.Qualification,
		joinChannels(sg.AuthChannels), sg.Order, string(sg.Status), signedAt, sg.IP,
		sg.SignatureUUID, sg.SignatureHash, sg.ArtefactPath, sg.SignatureArt,
		sg.PositionX, sg.PositionY, sg.PositionPage, store.FormatTime(sg.CreatedAt))
	if err != nil {
		return fmt.Errorf("signers: failed to insert signer: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*Signer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+signerColumns+` FROM signers WHERE id = $1`, id)
	return scanSigner(row)
}

// GetForUpdate re-reads the row inside tx, locked on Postgres.
func (s *Store) GetForUpdate(ctx context.Context, tx store.DBTX, id string) (*Signer, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+signerColumns+` FROM signers WHERE id = $1`+s.db.Dialect.RowLockSuffix(), id)
	return scanSigner(row)
}

// ListByDocument returns a document's signers in invite order. It
// accepts a transaction so the all-signed check can read its own writes.
func (s *Store) ListByDocument(ctx context.Context, dbtx store.DBTX, documentID string) ([]*Signer, error) {
	rows, err := dbtx.QueryContext(ctx,
		`SELECT `+signerColumns+` FROM signers WHERE document_id = $1
		 ORDER BY sign_order, created_at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("signers: failed to list signers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*Signer
	for rows.Next() {
		sg, err := scanSigner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signers: failed to iterate signers: %w", err)
	}
	return out, nil
}

// UpdateIdentity stores the self-reported cpf and phone.
func (s *Store) UpdateIdentity(ctx context.Context, id, cpf, phone string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signers SET cpf = $1, phone = $2 WHERE id = $3`, cpf, phone, id)
	if err != nil {
		return fmt.Errorf("signers: failed to update identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSignerNotFound
	}
	return nil
}

// SetStatus moves the signer lifecycle state.
func (s *Store) SetStatus(ctx context.Context, dbtx store.DBTX, id string, status Status) error {
	res, err := dbtx.ExecContext(ctx,
		`UPDATE signers SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("signers: failed to set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSignerNotFound
	}
	return nil
}

// SavePosition stores the requested stamp placement.
func (s *Store) SavePosition(ctx context.Context, id string, x, y float64, page int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signers SET position_x = $1, position_y = $2, position_page = $3 WHERE id = $4`,
		x, y, page, id)
	if err != nil {
		return fmt.Errorf("signers: failed to save position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSignerNotFound
	}
	return nil
}

// SaveArt stores the chosen signature rendering.
func (s *Store) SaveArt(ctx context.Context, id, art string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE signers SET signature_art = $1 WHERE id = $2`, art, id)
	if err != nil {
		return fmt.Errorf("signers: failed to save art: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSignerNotFound
	}
	return nil
}

// RecordSignature persists the commit outcome inside dbtx: status,
// signedAt, ip and the signature artifacts.
func (s *Store) RecordSignature(ctx context.Context, dbtx store.DBTX, sg *Signer) error {
	signedAt := ""
	if sg.SignedAt != nil {
		signedAt = store.FormatTime(*sg.SignedAt)
	}
	res, err := dbtx.ExecContext(ctx,
		`UPDATE signers SET status = $1, signed_at = $2, ip = $3, signature_uuid = $4,
			signature_hash = $5, signature_artefact_path = $6
		 WHERE id = $7`,
		string(sg.Status), signedAt, sg.IP, sg.SignatureUUID, sg.SignatureHash,
		sg.ArtefactPath, sg.ID)
	if err != nil {
		return fmt.Errorf("signers: failed to record signature: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSignerNotFound
	}
	return nil
}
