// Package documents implements the document store: upload with content
// fingerprinting, the status machine, folders, listing, stats and the
// public integrity re-check.
package documents

import (
	"errors"
	"time"
)

var (
	ErrDocumentNotFound  = errors.New("documents: document not found")
	ErrFolderNotFound    = errors.New("documents: folder not found")
	ErrFolderCycle       = errors.New("documents: folder move would create a cycle")
	ErrInvalidTransition = errors.New("documents: status does not allow this transition")
	ErrEmptyFile         = errors.New("documents: uploaded file is empty")
)

// Status is the document lifecycle state.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusReady           Status = "READY"
	StatusPartiallySigned Status = "PARTIALLY_SIGNED"
	StatusSigned          Status = "SIGNED"
	StatusExpired         Status = "EXPIRED"
	StatusCancelled       Status = "CANCELLED"
)

// Pending reports whether the document is still collecting signatures.
func (s Status) Pending() bool {
	return s == StatusReady || s == StatusPartiallySigned
}

// Terminal reports whether content mutation is over.
func (s Status) Terminal() bool {
	return s == StatusSigned || s == StatusExpired || s == StatusCancelled
}

// Document is one uploaded artifact. sha256 and storageKey are set
// together when the upload finalizes.
type Document struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	OwnerID       string     `json:"ownerId"`
	FolderID      string     `json:"folderId,omitempty"`
	Title         string     `json:"title"`
	StorageKey    string     `json:"storageKey,omitempty"`
	MimeType      string     `json:"mimeType"`
	Size          int64      `json:"size"`
	Sha256        string     `json:"sha256,omitempty"`
	DeadlineAt    *time.Time `json:"deadlineAt,omitempty"`
	AutoReminders bool       `json:"autoReminders"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`

	// OwnerName is populated on reads that join the owner, not stored.
	OwnerName string `json:"ownerName,omitempty"`
}

// Folder is a hierarchical container for documents.
type Folder struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	OwnerID   string    `json:"ownerId"`
	ParentID  string    `json:"parentId,omitempty"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats is the dashboard summary for one tenant.
type Stats struct {
	Pending   int         `json:"pending"`
	Signed    int         `json:"signed"`
	Expired   int         `json:"expired"`
	Draft     int         `json:"draft"`
	Total     int         `json:"total"`
	SizeBytes int64       `json:"sizeBytes"`
	Recent    []*Document `json:"recent"`
}

// List filter keywords, matching the front end's tab names.
const (
	FilterPending   = "pendentes"
	FilterCompleted = "concluidos"
	FilterTrash     = "lixeira"
)

// Validation reasons for the public integrity re-check.
const (
	ReasonNotFound  = "NOT_FOUND"
	ReasonNotSigned = "NOT_SIGNED"
)

// SignerInfo is the slice of a signer shown by the public validator.
type SignerInfo struct {
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Status   string     `json:"status"`
	SignedAt *time.Time `json:"signedAt,omitempty"`
}

// ValidationResult is the outcome of the public integrity re-check.
type ValidationResult struct {
	Valid          bool         `json:"valid"`
	Reason         string       `json:"reason,omitempty"`
	HashCalculated string       `json:"hashCalculated"`
	Title          string       `json:"title,omitempty"`
	SignedAt       *time.Time   `json:"signedAt,omitempty"`
	OwnerName      string       `json:"ownerName,omitempty"`
	Signers        []SignerInfo `json:"signers,omitempty"`
}
