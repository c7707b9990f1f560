package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/assinado-app/assinado/pkg/audit"
	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/blob"
	"github.com/assinado-app/assinado/pkg/crypto"
	"github.com/assinado-app/assinado/pkg/quota"
	"github.com/assinado-app/assinado/pkg/store"
	"github.com/assinado-app/assinado/pkg/tenants"
	"github.com/assinado-app/assinado/pkg/tiers"
)

const recentLimit = 5

// SignerLister is the slice of the signer layer the public validator
// needs. Declared here so the dependency points signers -> documents.
type SignerLister interface {
	SignerInfos(ctx context.Context, documentID string) ([]SignerInfo, error)
}

// OwnerNames resolves user ids to display names for stats and the
// public validator.
type OwnerNames interface {
	UserName(ctx context.Context, userID string) (string, error)
}

// Service implements upload, listing, the status machine and the
// public integrity re-check.
type Service struct {
	db      *store.DB
	docs    *Store
	folders *FolderStore
	blobs   blob.Store
	gate    *quota.Gate
	tenants *tenants.TenantStore
	plans   *tiers.Store
	chain   *audit.Chain
	signers SignerLister
	names   OwnerNames
	logger  *slog.Logger
	now     func() time.Time
}

type ServiceOption func(*Service)

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(db *store.DB, docs *Store, folders *FolderStore, blobs blob.Store,
	gate *quota.Gate, tenantStore *tenants.TenantStore, plans *tiers.Store,
	chain *audit.Chain, signers SignerLister, names OwnerNames, logger *slog.Logger,
	opts ...ServiceOption) *Service {
	s := &Service{
		db:      db,
		docs:    docs,
		folders: folders,
		blobs:   blobs,
		gate:    gate,
		tenants: tenantStore,
		plans:   plans,
		chain:   chain,
		signers: signers,
		names:   names,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadInput carries one file plus its metadata.
type UploadInput struct {
	FileName      string
	MimeType      string
	Data          []byte
	Title         string
	DeadlineAt    *time.Time
	FolderID      string
	AutoReminders bool
	IP            string
	UserAgent     string
}

// StorageKey derives the immutable content key for a document.
func StorageKey(tenantID, documentID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("uploads/%s/%s%s", tenantID, documentID, ext)
}

// Upload runs the quota gates, persists the document row, writes the
// bytes, fingerprints them and finalizes to READY, all atomically. The
// blob is removed on rollback.
func (s *Service) Upload(ctx context.Context, principal *auth.Principal, in UploadInput) (*Document, error) {
	if len(in.Data) == 0 {
		return nil, ErrEmptyFile
	}
	tenant, err := s.tenants.GetByID(ctx, principal.TenantID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.GetByID(ctx, tenant.PlanID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CheckSubscription(tenant, plan, principal); err != nil {
		return nil, err
	}
	if err := s.gate.CheckDocumentLimit(ctx, tenant.ID, plan); err != nil {
		return nil, err
	}

	title := in.Title
	if title == "" {
		title = in.FileName
	}
	now := s.now().UTC()
	doc := &Document{
		TenantID:      tenant.ID,
		OwnerID:       principal.ID,
		FolderID:      in.FolderID,
		Title:         title,
		MimeType:      in.MimeType,
		Size:          int64(len(in.Data)),
		DeadlineAt:    in.DeadlineAt,
		AutoReminders: in.AutoReminders,
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var storageKey string
	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if in.FolderID != "" {
			if _, err := s.folders.GetForTenant(ctx, tenant.ID, in.FolderID); err != nil {
				return err
			}
		}
		if err := s.docs.Create(ctx, tx, doc); err != nil {
			return err
		}

		storageKey = StorageKey(tenant.ID, doc.ID, in.FileName)
		if err := s.blobs.Put(ctx, storageKey, in.Data); err != nil {
			return err
		}

		doc.StorageKey = storageKey
		doc.Sha256 = crypto.Sha256Hex(in.Data)
		doc.Status = StatusReady
		doc.UpdatedAt = s.now().UTC()
		if err := s.docs.Update(ctx, tx, doc); err != nil {
			return err
		}

		_, err := s.chain.Append(ctx, tx, audit.Input{
			TenantID:   tenant.ID,
			ActorKind:  audit.ActorUser,
			ActorID:    principal.ID,
			EntityType: audit.EntityDocument,
			EntityID:   doc.ID,
			Action:     audit.ActionStorageUploaded,
			IP:         in.IP,
			UserAgent:  in.UserAgent,
			Payload:    map[string]any{"fileName": in.FileName, "sha256": doc.Sha256},
		})
		return err
	})
	if err != nil {
		if storageKey != "" {
			if delErr := s.blobs.Delete(context.WithoutCancel(ctx), storageKey); delErr != nil {
				s.logger.Warn("failed to clean up blob after rollback", "key", storageKey, "error", delErr)
			}
		}
		return nil, err
	}
	return doc, nil
}

// List returns the tenant's documents for one front-end tab.
func (s *Service) List(ctx context.Context, principal *auth.Principal, filter string) ([]*Document, error) {
	return s.docs.List(ctx, principal.TenantID, filter)
}

// Get is tenant-scoped; cross-tenant ids read as not found.
func (s *Service) Get(ctx context.Context, principal *auth.Principal, id string) (*Document, error) {
	return s.docs.GetForTenant(ctx, principal.TenantID, id)
}

// Stats assembles the dashboard numbers.
func (s *Service) Stats(ctx context.Context, principal *auth.Principal) (*Stats, error) {
	counts, err := s.docs.CountsByStatus(ctx, principal.TenantID)
	if err != nil {
		return nil, err
	}
	size, err := s.docs.SizeSum(ctx, principal.TenantID)
	if err != nil {
		return nil, err
	}
	recent, err := s.docs.Recent(ctx, principal.TenantID, recentLimit)
	if err != nil {
		return nil, err
	}
	for _, d := range recent {
		name, err := s.names.UserName(ctx, d.OwnerID)
		if err == nil {
			d.OwnerName = name
		}
	}

	stats := &Stats{
		Pending:   counts[StatusReady] + counts[StatusPartiallySigned],
		Signed:    counts[StatusSigned],
		Expired:   counts[StatusExpired],
		Draft:     counts[StatusDraft],
		SizeBytes: size,
		Recent:    recent,
	}
	for status, n := range counts {
		if status != StatusCancelled {
			stats.Total += n
		}
	}
	return stats, nil
}

// Cancel moves a pending document to CANCELLED.
func (s *Service) Cancel(ctx context.Context, principal *auth.Principal, id, ip, userAgent string) (*Document, error) {
	return s.transition(ctx, principal, id, StatusCancelled, audit.ActorUser, principal.ID, ip, userAgent)
}

// Expire moves a pending document to EXPIRED (owner-initiated; the
// scheduler uses ExpireAsSystem).
func (s *Service) Expire(ctx context.Context, principal *auth.Principal, id, ip, userAgent string) (*Document, error) {
	return s.transition(ctx, principal, id, StatusExpired, audit.ActorUser, principal.ID, ip, userAgent)
}

// ExpireAsSystem is the scheduler path: no principal, actor SYSTEM.
func (s *Service) ExpireAsSystem(ctx context.Context, doc *Document) error {
	_, err := s.applyTransition(ctx, doc, StatusExpired, audit.ActorSystem, "", "", "")
	return err
}

func (s *Service) transition(ctx context.Context, principal *auth.Principal, id string, to Status,
	actorKind audit.ActorKind, actorID, ip, userAgent string) (*Document, error) {
	doc, err := s.docs.GetForTenant(ctx, principal.TenantID, id)
	if err != nil {
		return nil, err
	}
	return s.applyTransition(ctx, doc, to, actorKind, actorID, ip, userAgent)
}

func (s *Service) applyTransition(ctx context.Context, doc *Document, to Status,
	actorKind audit.ActorKind, actorID, ip, userAgent string) (*Document, error) {
	if !doc.Status.Pending() {
		return nil, ErrInvalidTransition
	}
	err := store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.docs.SetStatus(ctx, tx, doc.ID, to, s.now()); err != nil {
			return err
		}
		_, err := s.chain.Append(ctx, tx, audit.Input{
			TenantID:   doc.TenantID,
			ActorKind:  actorKind,
			ActorID:    actorID,
			EntityType: audit.EntityDocument,
			EntityID:   doc.ID,
			Action:     audit.ActionStatusChanged,
			IP:         ip,
			UserAgent:  userAgent,
			Payload:    map[string]any{"newStatus": string(to)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	doc.Status = to
	doc.UpdatedAt = s.now().UTC()
	return doc, nil
}

// Download variants. The stored key points at the stamped bytes once
// the document is SIGNED; "original" strips the stamped suffix back off.
const (
	VariantOriginal = "original"
	VariantSigned   = "signed"
)

// Download loads the stored bytes and records the access.
func (s *Service) Download(ctx context.Context, principal *auth.Principal, id string) (*Document, []byte, error) {
	return s.DownloadVariant(ctx, principal, id, "")
}

// DownloadVariant loads either the current bytes or, for signed
// documents, the pre-stamp original.
func (s *Service) DownloadVariant(ctx context.Context, principal *auth.Principal, id, variant string) (*Document, []byte, error) {
	doc, err := s.docs.GetForTenant(ctx, principal.TenantID, id)
	if err != nil {
		return nil, nil, err
	}
	if doc.StorageKey == "" {
		return nil, nil, ErrDocumentNotFound
	}
	key := doc.StorageKey
	if variant == VariantOriginal {
		ext := path.Ext(key)
		key = strings.TrimSuffix(strings.TrimSuffix(key, ext), "-signed") + ext
	}
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.chain.AppendTx(ctx, audit.Input{
		TenantID:   doc.TenantID,
		ActorKind:  audit.ActorUser,
		ActorID:    principal.ID,
		EntityType: audit.EntityDocument,
		EntityID:   doc.ID,
		Action:     audit.ActionDownloaded,
		Payload:    map[string]any{"storageKey": key},
	}); err != nil {
		return nil, nil, err
	}
	return doc, data, nil
}

// ValidateBuffer is the public integrity re-check: hash the presented
// bytes and look for the signed document carrying that hash.
func (s *Service) ValidateBuffer(ctx context.Context, data []byte) (*ValidationResult, error) {
	hash := crypto.Sha256Hex(data)
	result := &ValidationResult{HashCalculated: hash}

	doc, err := s.docs.GetBySha256(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			result.Reason = ReasonNotFound
			return result, nil
		}
		return nil, err
	}
	if doc.Status != StatusSigned {
		result.Reason = ReasonNotSigned
		return result, nil
	}

	result.Valid = true
	result.Title = doc.Title
	signedAt := doc.UpdatedAt
	result.SignedAt = &signedAt
	if name, err := s.names.UserName(ctx, doc.OwnerID); err == nil {
		result.OwnerName = name
	}
	if s.signers != nil {
		infos, err := s.signers.SignerInfos(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		result.Signers = infos
	}
	return result, nil
}

// Folders exposes the folder hierarchy operations.
func (s *Service) Folders() *FolderStore { return s.folders }
