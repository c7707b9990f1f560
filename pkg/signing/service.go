// Package signing implements the signer-commit transaction and the
// last-signer finalization: stamp the PDF, reseal the document under
// its new hash, mint the completion certificate and fan out the
// completion emails.
package signing

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/assinado-app/assinado/pkg/audit"
	"github.com/assinado-app/assinado/pkg/blob"
	"github.com/assinado-app/assinado/pkg/crypto"
	"github.com/assinado-app/assinado/pkg/documents"
	"github.com/assinado-app/assinado/pkg/identity"
	"github.com/assinado-app/assinado/pkg/notify"
	"github.com/assinado-app/assinado/pkg/observability"
	"github.com/assinado-app/assinado/pkg/signers"
	"github.com/assinado-app/assinado/pkg/stamp"
	"github.com/assinado-app/assinado/pkg/store"
	"github.com/assinado-app/assinado/pkg/tenants"
)

var (
	ErrSignerClosed   = errors.New("signing: signer has already acted on this document")
	ErrDocumentClosed = errors.New("signing: document no longer accepts signatures")
	ErrMissingImage   = errors.New("signing: signature image is required")
	ErrBadImage       = errors.New("signing: signature image is not valid base64")
)

const (
	deliveryTimeout = 15 * time.Second

	// fallbackTemplate seals the completion email when the tenant has
	// not configured one.
	fallbackTemplate = `<p>Olá {{signer_name}},</p>` +
		`<p>O documento <strong>{{doc_title}}</strong> foi assinado por todos os participantes.</p>` +
		`<p><a href="{{doc_link}}">Acessar documento</a></p>` +
		`<p>Código do documento: {{doc_id}}</p>`
)

// CommitInput is what the signer submits on commit.
type CommitInput struct {
	ClientFingerprint string
	SignatureImage    string // base64 PNG, raw or data URL
	IP                string
	UserAgent         string
}

// Result is the commit outcome returned to the signer.
type Result struct {
	ShortCode     string              `json:"shortCode"`
	SignatureHash string              `json:"signatureHash"`
	IsComplete    bool                `json:"isComplete"`
	Document      *documents.Document `json:"document"`
}

// Service runs commits. All database writes of one commit share one
// transaction; the document row lock serializes concurrent last-signer
// commits so finalization runs exactly once.
type Service struct {
	db       *store.DB
	docs     *documents.Store
	signers  *signers.Store
	certs    *CertificateStore
	blobs    blob.Store
	stamper  stamp.Stamper
	chain    *audit.Chain
	sender   notify.Sender
	settings *tenants.SettingsStore
	users    *identity.UserStore
	obs      *observability.Provider
	logger   *slog.Logger
	frontURL string
	now      func() time.Time
}

type ServiceOption func(*Service)

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(db *store.DB, docs *documents.Store, signerStore *signers.Store,
	certs *CertificateStore, blobs blob.Store, stamper stamp.Stamper,
	chain *audit.Chain, sender notify.Sender, settings *tenants.SettingsStore,
	users *identity.UserStore, obs *observability.Provider, logger *slog.Logger,
	frontURL string, opts ...ServiceOption) *Service {
	s := &Service{
		db:       db,
		docs:     docs,
		signers:  signerStore,
		certs:    certs,
		blobs:    blobs,
		stamper:  stamper,
		chain:    chain,
		sender:   sender,
		settings: settings,
		users:    users,
		obs:      obs,
		logger:   logger,
		frontURL: frontURL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// decodeImage accepts a raw base64 PNG or a data URL.
func decodeImage(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, ErrMissingImage
	}
	if i := strings.IndexByte(encoded, ','); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrBadImage
	}
	if len(data) == 0 {
		return nil, ErrMissingImage
	}
	return data, nil
}

// signedStorageKey derives the stamped file's key from the original's.
func signedStorageKey(storageKey string) string {
	ext := path.Ext(storageKey)
	return strings.TrimSuffix(storageKey, ext) + "-signed" + ext
}

// Commit records one signature. When every signer of the document has
// signed it also runs finalization: stamp, reseal, certificate, audit,
// and the post-commit completion fan-out. A racing commit for the same
// signer loses on the signer status; a racing last-signer commit loses
// on the locked document status.
func (s *Service) Commit(ctx context.Context, doc *documents.Document, signer *signers.Signer, in CommitInput) (*Result, error) {
	ctx, done := s.obs.TrackOperation(ctx, "signing", "commit")
	result, err := s.commit(ctx, doc, signer, in)
	done(err)
	return result, err
}

func (s *Service) commit(ctx context.Context, doc *documents.Document, signer *signers.Signer, in CommitInput) (*Result, error) {
	image, err := decodeImage(in.SignatureImage)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	timestamp := store.FormatTime(now)
	var result *Result
	var completedSigners []*signers.Signer

	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		sg, err := s.signers.GetForUpdate(ctx, tx, signer.ID)
		if err != nil {
			return err
		}
		if sg.Status != signers.StatusPending && sg.Status != signers.StatusViewed {
			return ErrSignerClosed
		}
		d, err := s.docs.GetForUpdate(ctx, tx, doc.ID)
		if err != nil {
			return err
		}
		if !d.Status.Pending() {
			return ErrDocumentClosed
		}

		signatureHash := crypto.Sha256Hex([]byte(d.Sha256 + sg.ID + timestamp + in.ClientFingerprint))
		shortCode := crypto.ShortCode(signatureHash)
		artefactPath := fmt.Sprintf("uploads/%s/signatures/%s.png", d.TenantID, sg.ID)
		if err := s.blobs.Put(ctx, artefactPath, image); err != nil {
			return err
		}

		signedAt := now
		sg.Status = signers.StatusSigned
		sg.SignedAt = &signedAt
		sg.IP = in.IP
		sg.SignatureUUID = uuid.NewString()
		sg.SignatureHash = signatureHash
		sg.ArtefactPath = artefactPath
		if err := s.signers.RecordSignature(ctx, tx, sg); err != nil {
			return err
		}

		if _, err := s.chain.Append(ctx, tx, audit.Input{
			TenantID:   d.TenantID,
			ActorKind:  audit.ActorSigner,
			ActorID:    sg.ID,
			EntityType: audit.EntityDocument,
			EntityID:   d.ID,
			Action:     audit.ActionSigned,
			IP:         in.IP,
			UserAgent:  in.UserAgent,
			Payload: map[string]any{
				"signatureHash":     signatureHash,
				"artefactPath":      artefactPath,
				"shortCode":         shortCode,
				"clientFingerprint": in.ClientFingerprint,
				"ip":                in.IP,
			},
		}); err != nil {
			return err
		}

		all, err := s.signers.ListByDocument(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		allSigned := true
		for _, other := range all {
			if other.Status != signers.StatusSigned {
				allSigned = false
				break
			}
		}

		if !allSigned {
			if d.Status == documents.StatusReady {
				if err := s.docs.SetStatus(ctx, tx, d.ID, documents.StatusPartiallySigned, now); err != nil {
					return err
				}
				d.Status = documents.StatusPartiallySigned
			}
			result = &Result{ShortCode: shortCode, SignatureHash: signatureHash, Document: d}
			return nil
		}

		if err := s.finalize(ctx, tx, d, all, timestamp, now); err != nil {
			return err
		}
		completedSigners = all
		result = &Result{ShortCode: shortCode, SignatureHash: signatureHash, IsComplete: true, Document: d}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.IsComplete {
		s.fanOutCompletion(result.Document, completedSigners)
	}
	return result, nil
}

// finalize runs inside the commit transaction with the document row
// locked: stamp the PDF, move the document to its new key and hash,
// mark it SIGNED and mint the certificate.
func (s *Service) finalize(ctx context.Context, tx *sql.Tx, d *documents.Document,
	all []*signers.Signer, timestamp string, now time.Time) error {
	original, err := s.blobs.Get(ctx, d.StorageKey)
	if err != nil {
		return fmt.Errorf("signing: failed to load original document: %w", err)
	}

	stamps := make([]stamp.SignerStamp, 0, len(all))
	for _, sg := range all {
		var signedAt time.Time
		if sg.SignedAt != nil {
			signedAt = *sg.SignedAt
		}
		var imagePNG []byte
		if sg.ArtefactPath != "" {
			if imagePNG, err = s.blobs.Get(ctx, sg.ArtefactPath); err != nil {
				return fmt.Errorf("signing: failed to load signature image: %w", err)
			}
		}
		stamps = append(stamps, stamp.SignerStamp{
			Name:          sg.Name,
			CPF:           sg.CPF,
			Email:         sg.Email,
			SignedAt:      signedAt,
			IP:            sg.IP,
			SignatureUUID: sg.SignatureUUID,
			ImagePNG:      imagePNG,
			PositionX:     sg.PositionX,
			PositionY:     sg.PositionY,
			PositionPage:  sg.PositionPage,
		})
	}

	stamped, err := s.stamper.EmbedSignatures(ctx, original, stamps, stamp.DocInfo{
		ID: d.ID, Title: d.Title, Sha256: d.Sha256,
	})
	if err != nil {
		return fmt.Errorf("signing: failed to stamp document: %w", err)
	}

	signedKey := signedStorageKey(d.StorageKey)
	if err := s.blobs.Put(ctx, signedKey, stamped); err != nil {
		return err
	}

	d.StorageKey = signedKey
	d.Sha256 = crypto.Sha256Hex(stamped)
	d.Status = documents.StatusSigned
	d.UpdatedAt = now
	if err := s.docs.Update(ctx, tx, d); err != nil {
		return err
	}
	if _, err := s.chain.Append(ctx, tx, audit.Input{
		TenantID:   d.TenantID,
		ActorKind:  audit.ActorSystem,
		EntityType: audit.EntityDocument,
		EntityID:   d.ID,
		Action:     audit.ActionStatusChanged,
		Payload: map[string]any{
			"newStatus": string(documents.StatusSigned),
			"newSha256": d.Sha256,
		},
	}); err != nil {
		return err
	}

	cert := &Certificate{
		DocumentID: d.ID,
		StorageKey: "certificates/" + d.ID + ".pdf",
		Sha256:     crypto.Sha256Hex([]byte("CERT-" + d.ID + timestamp)),
		IssuedAt:   now,
	}
	if err := s.certs.Create(ctx, tx, cert); err != nil {
		return err
	}
	if _, err := s.chain.Append(ctx, tx, audit.Input{
		TenantID:   d.TenantID,
		ActorKind:  audit.ActorSystem,
		EntityType: audit.EntityDocument,
		EntityID:   d.ID,
		Action:     audit.ActionCertificateIssued,
		Payload:    map[string]any{"sha256": cert.Sha256},
	}); err != nil {
		return err
	}
	return nil
}

// fanOutCompletion emails the owner and every signer after the commit.
// Delivery failures are logged only.
func (s *Service) fanOutCompletion(d *documents.Document, all []*signers.Signer) {
	template := fallbackTemplate
	if s.settings != nil {
		if st, err := s.settings.Get(context.Background(), d.TenantID); err == nil && st.FinalEmailTemplate != "" {
			template = st.FinalEmailTemplate
		}
	}

	type recipient struct{ name, email string }
	recipients := make([]recipient, 0, len(all)+1)
	if owner, err := s.users.GetByID(context.Background(), d.OwnerID); err == nil {
		recipients = append(recipients, recipient{owner.Name, owner.Email})
	} else {
		s.logger.Warn("completion fan-out skipped owner", "documentId", d.ID, "error", err)
	}
	for _, sg := range all {
		recipients = append(recipients, recipient{sg.Name, sg.Email})
	}

	link := s.frontURL + "/documents/" + d.ID
	for _, r := range recipients {
		go func(r recipient) {
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			html := notify.RenderTemplate(template, map[string]string{
				"signer_name": r.name,
				"doc_title":   d.Title,
				"doc_link":    link,
				"doc_id":      d.ID,
			})
			err := s.sender.SendEmail(ctx, d.TenantID, notify.EmailMessage{
				To:      r.email,
				Subject: fmt.Sprintf("Documento assinado: %s", d.Title),
				HTML:    html,
			})
			if err != nil {
				s.logger.Warn("completion delivery failed", "documentId", d.ID, "error", err)
			}
		}(r)
	}
}

// Certificates exposes the certificate store for the API layer.
func (s *Service) Certificates() *CertificateStore { return s.certs }
