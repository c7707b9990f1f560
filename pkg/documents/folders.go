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

const folderSchema = `
CREATE TABLE IF NOT EXISTS folders (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	parent_id  TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL,
	color      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_folders_tenant ON folders (tenant_id, parent_id);
`

// FolderStore persists the folder hierarchy.
type FolderStore struct {
	db *store.DB
}

func NewFolderStore(db *store.DB) *FolderStore {
	return &FolderStore{db: db}
}

func (s *FolderStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, folderSchema); err != nil {
		return fmt.Errorf("documents: failed to init folder schema: %w", err)
	}
	return nil
}

const folderColumns = `id, tenant_id, owner_id, parent_id, name, color, created_at`

func scanFolder(row interface{ Scan(...any) error }) (*Folder, error) {
	var f Folder
	var createdAt string
	err := row.Scan(&f.ID, &f.TenantID, &f.OwnerID, &f.ParentID, &f.Name, &f.Color, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFolderNotFound
		}
		return nil, fmt.Errorf("documents: failed to scan folder: %w", err)
	}
	f.CreatedAt = store.ParseTime(createdAt)
	return &f, nil
}

// Create inserts a folder. A non-empty parent must exist in the same
// tenant.
func (s *FolderStore) Create(ctx context.Context, f *Folder) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.ParentID != "" {
		if _, err := s.GetForTenant(ctx, f.TenantID, f.ParentID); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folders (`+folderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.TenantID, f.OwnerID, f.ParentID, f.Name, f.Color, store.FormatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("documents: failed to insert folder: %w", err)
	}
	return nil
}

func (s *FolderStore) GetForTenant(ctx context.Context, tenantID, id string) (*Folder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanFolder(row)
}

// List returns the tenant's folders, parents before children where the
// hierarchy allows.
func (s *FolderStore) List(ctx context.Context, tenantID string) ([]*Folder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE tenant_id = $1 ORDER BY parent_id, name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("documents: failed to list folders: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var folders []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("documents: failed to iterate folders: %w", err)
	}
	return folders, nil
}

// Rename updates name and color.
func (s *FolderStore) Rename(ctx context.Context, tenantID, id, name, color string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE folders SET name = $1, color = $2 WHERE id = $3 AND tenant_id = $4`,
		name, color, id, tenantID)
	if err != nil {
		return fmt.Errorf("documents: failed to rename folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFolderNotFound
	}
	return nil
}

// Move re-parents a folder. Moving under one's own descendant (or
// itself) is rejected by walking the ancestor chain.
func (s *FolderStore) Move(ctx context.Context, tenantID, id, newParentID string) error {
	if _, err := s.GetForTenant(ctx, tenantID, id); err != nil {
		return err
	}
	if newParentID != "" {
		if newParentID == id {
			return ErrFolderCycle
		}
		ancestor := newParentID
		for ancestor != "" {
			parent, err := s.GetForTenant(ctx, tenantID, ancestor)
			if err != nil {
				return err
			}
			if parent.ID == id {
				return ErrFolderCycle
			}
			ancestor = parent.ParentID
		}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE folders SET parent_id = $1 WHERE id = $2 AND tenant_id = $3`,
		newParentID, id, tenantID)
	if err != nil {
		return fmt.Errorf("documents: failed to move folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFolderNotFound
	}
	return nil
}

// Delete removes a folder; contained documents fall back to the root
// and child folders are re-parented one level up.
func (s *FolderStore) Delete(ctx context.Context, tenantID, id string) error {
	folder, err := s.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return err
	}
	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET folder_id = '' WHERE folder_id = $1 AND tenant_id = $2`, id, tenantID); err != nil {
			return fmt.Errorf("documents: failed to detach documents: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE folders SET parent_id = $1 WHERE parent_id = $2 AND tenant_id = $3`,
			folder.ParentID, id, tenantID); err != nil {
			return fmt.Errorf("documents: failed to re-parent folders: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM folders WHERE id = $1 AND tenant_id = $2`, id, tenantID); err != nil {
			return fmt.Errorf("documents: failed to delete folder: %w", err)
		}
		return nil
	})
	return err
}
