package signing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/assinado-app/assinado/pkg/store"
)

// ErrCertificateNotFound reports a document without a completion
// certificate.
var ErrCertificateNotFound = errors.New("signing: certificate not found")

// Certificate is the completion artifact minted when the last signer
// commits. One per document.
type Certificate struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	StorageKey string    `json:"storageKey"`
	Sha256     string    `json:"sha256"`
	IssuedAt   time.Time `json:"issuedAt"`
}

const certificateSchema = `
CREATE TABLE IF NOT EXISTS certificates (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL UNIQUE,
	storage_key TEXT NOT NULL,
	sha256      TEXT NOT NULL,
	issued_at   TEXT NOT NULL
);
`

// CertificateStore persists completion certificates.
type CertificateStore struct {
	db *store.DB
}

func NewCertificateStore(db *store.DB) *CertificateStore {
	return &CertificateStore{db: db}
}

func (s *CertificateStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, certificateSchema); err != nil {
		return fmt.Errorf("signing: failed to init certificate schema: %w", err)
	}
	return nil
}

// Create inserts the certificate inside dbtx. The unique constraint on
// document_id backs up the finalization status gate.
func (s *CertificateStore) Create(ctx context.Context, dbtx store.DBTX, c *Certificate) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := dbtx.ExecContext(ctx,
		`INSERT INTO certificates (id, document_id, storage_key, sha256, issued_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.DocumentID, c.StorageKey, c.Sha256, store.FormatTime(c.IssuedAt))
	if err != nil {
		return fmt.Errorf("signing: failed to insert certificate: %w", err)
	}
	return nil
}

// GetByDocument returns a document's certificate.
func (s *CertificateStore) GetByDocument(ctx context.Context, documentID string) (*Certificate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, storage_key, sha256, issued_at
		 FROM certificates WHERE document_id = $1`, documentID)
	var c Certificate
	var issuedAt string
	err := row.Scan(&c.ID, &c.DocumentID, &c.StorageKey, &c.Sha256, &issuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("signing: failed to scan certificate: %w", err)
	}
	c.IssuedAt = store.ParseTime(issuedAt)
	return &c, nil
}
