package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/assinado-app/assinado/pkg/store"
)

const documentSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	owner_id       TEXT NOT NULL,
	folder_id      TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL,
	storage_key    TEXT NOT NULL DEFAULT '',
	mime_type      TEXT NOT NULL,
	size           INTEGER NOT NULL,
	sha256         TEXT NOT NULL DEFAULT '',
	deadline_at    TEXT NOT NULL DEFAULT '',
	auto_reminders INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents (tenant_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_documents_sha ON documents (sha256);
CREATE INDEX IF NOT EXISTS idx_documents_deadline ON documents (status, deadline_at);
`

// Store persists documents.
type Store struct {
	db *store.DB
}

func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, documentSchema); err != nil {
		return fmt.Errorf("documents: failed to init schema: %w", err)
	}
	return nil
}

const documentColumns = `id, tenant_id, owner_id, folder_id, title, storage_key, mime_type, size, sha256, deadline_at, auto_reminders, status, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var deadline, createdAt, updatedAt string
	var autoReminders int
	err := row.Scan(&d.ID, &d.TenantID, &d.OwnerID, &d.FolderID, &d.Title, &d.StorageKey,
		&d.MimeType, &d.Size, &d.Sha256, &deadline, &autoReminders, &d.Status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("documents: failed to scan document: %w", err)
	}
	if deadline != "" {
		t := store.ParseTime(deadline)
		d.DeadlineAt = &t
	}
	d.AutoReminders = autoReminders != 0
	d.CreatedAt = store.ParseTime(createdAt)
	d.UpdatedAt = store.ParseTime(updatedAt)
	return &d, nil
}

func documentArgs(d *Document) []any {
	deadline := ""
	if d.DeadlineAt != nil {
		deadline = store.FormatTime(*d.DeadlineAt)
	}
	autoReminders := 0
	if d.AutoReminders {
		autoReminders = 1
	}
	return []any{
		d.ID, d.TenantID, d.OwnerID, d.FolderID, d.Title, d.StorageKey,
		d.MimeType, d.Size, d.Sha256, deadline, autoReminders, string(d.Status),
		store.FormatTime(d.CreatedAt), store.FormatTime(d.UpdatedAt),
	}
}

// Create inserts the document inside dbtx.
func (s *Store) Create(ctx context.Context, dbtx store.DBTX, d *Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := dbtx.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		documentArgs(d)...)
	if err != nil {
		return fmt.Errorf("documents: failed to insert document: %w", err)
	}
	return nil
}

// Update rewrites the full row inside dbtx.
func (s *Store) Update(ctx context.Context, dbtx store.DBTX, d *Document) error {
	args := documentArgs(d)
	res, err := dbtx.ExecContext(ctx,
		`UPDATE documents SET tenant_id = $2, owner_id = $3, folder_id = $4, title = $5,
			storage_key = $6, mime_type = $7, size = $8, sha256 = $9, deadline_at = $10,
			auto_reminders = $11, status = $12, created_at = $13, updated_at = $14
		 WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("documents: failed to update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// GetForTenant scopes the read; a document in another tenant is
// indistinguishable from a missing one.
func (s *Store) GetForTenant(ctx context.Context, tenantID, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanDocument(row)
}

// GetForUpdate re-reads the row inside tx, locked on Postgres.
func (s *Store) GetForUpdate(ctx context.Context, tx store.DBTX, id string) (*Document, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`+s.db.Dialect.RowLockSuffix(), id)
	return scanDocument(row)
}

// GetBySha256 finds the single document carrying a content hash.
func (s *Store) GetBySha256(ctx context.Context, sha string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE sha256 = $1 AND sha256 != '' LIMIT 1`, sha)
	return scanDocument(row)
}

func (s *Store) collect(rows *sql.Rows) ([]*Document, error) {
	defer func() { _ = rows.Close() }()
	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("documents: failed to iterate documents: %w", err)
	}
	return docs, nil
}

// List returns the tenant's documents newest first. The filter keyword
// selects a status subset; by default CANCELLED is excluded.
func (s *Store) List(ctx context.Context, tenantID, filter string) ([]*Document, error) {
	var statusClause string
	switch filter {
	case FilterPending:
		statusClause = `status IN ('READY', 'PARTIALLY_SIGNED')`
	case FilterCompleted:
		statusClause = `status = 'SIGNED'`
	case FilterTrash:
		statusClause = `status IN ('CANCELLED', 'EXPIRED')`
	default:
		statusClause = `status != 'CANCELLED'`
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND `+statusClause+`
		 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("documents: failed to list documents: %w", err)
	}
	return s.collect(rows)
}

// CountByTenant is the quota counter: every document regardless of status.
func (s *Store) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("documents: failed to count documents: %w", err)
	}
	return n, nil
}

// CountsByStatus returns status -> count for one tenant.
func (s *Store) CountsByStatus(ctx context.Context, tenantID string) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM documents WHERE tenant_id = $1 GROUP BY status`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("documents: failed to count by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("documents: failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("documents: failed to iterate status counts: %w", err)
	}
	return counts, nil
}

// SizeSum totals the bytes of non-cancelled documents.
func (s *Store) SizeSum(ctx context.Context, tenantID string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(size) FROM documents WHERE tenant_id = $1 AND status != 'CANCELLED'`, tenantID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("documents: failed to sum sizes: %w", err)
	}
	return total.Int64, nil
}

// Recent returns the most recently touched documents.
func (s *Store) Recent(ctx context.Context, tenantID string, limit int) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE tenant_id = $1 AND status != 'CANCELLED'
		 ORDER BY updated_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("documents: failed to list recent documents: %w", err)
	}
	return s.collect(rows)
}

// SetStatus moves the lifecycle state and bumps updated_at.
func (s *Store) SetStatus(ctx context.Context, dbtx store.DBTX, id string, status Status, now time.Time) error {
	res, err := dbtx.ExecContext(ctx,
		`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), store.FormatTime(now.UTC()), id)
	if err != nil {
		return fmt.Errorf("documents: failed to set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// ListOverdue returns pending documents whose deadline has passed.
func (s *Store) ListOverdue(ctx context.Context, now time.Time) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE status IN ('READY', 'PARTIALLY_SIGNED') AND deadline_at != '' AND deadline_at < $1`,
		store.FormatTime(now.UTC()))
	if err != nil {
		return nil, fmt.Errorf("documents: failed to list overdue documents: %w", err)
	}
	return s.collect(rows)
}

// ListDeadlineWithin returns pending documents with auto reminders on
// whose deadline falls inside (now, until].
func (s *Store) ListDeadlineWithin(ctx context.Context, now, until time.Time) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE status IN ('READY', 'PARTIALLY_SIGNED') AND auto_reminders = 1
		   AND deadline_at != '' AND deadline_at > $1 AND deadline_at <= $2`,
		store.FormatTime(now.UTC()), store.FormatTime(until.UTC()))
	if err != nil {
		return nil, fmt.Errorf("documents: failed to list documents due soon: %w", err)
	}
	return s.collect(rows)
}
