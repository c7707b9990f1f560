package signing

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type emailCapture struct {
	emails chan notify.EmailMessage
}

func (c *emailCapture) SendEmail(_ context.Context, _ string, msg notify.EmailMessage) error {
	c.emails <- msg
	return nil
}

func (c *emailCapture) SendWhatsAppText(context.Context, string, notify.WhatsAppMessage) error {
	return nil
}

func (c *emailCapture) wait(t *testing.T) notify.EmailMessage {
	t.Helper()
	select {
	case msg := <-c.emails:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no completion email delivered")
		return notify.EmailMessage{}
	}
}

type signingFixture struct {
	db       *store.DB
	service  *Service
	docs     *documents.Store
	signers  *signers.Store
	certs    *CertificateStore
	blobs    blob.Store
	audits   *audit.Store
	settings *tenants.SettingsStore
	users    *identity.UserStore
	sender   *emailCapture
	now      time.Time
	tenantID string
}

func newSigningFixture(t *testing.T) *signingFixture {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &signingFixture{
		db:       db,
		docs:     documents.NewStore(db),
		signers:  signers.NewStore(db),
		certs:    NewCertificateStore(db),
		audits:   audit.NewStore(db),
		settings: tenants.NewSettingsStore(db),
		users:    identity.NewUserStore(db),
		sender:   &emailCapture{emails: make(chan notify.EmailMessage, 8)},
		now:      time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC),
		tenantID: "t-sign",
	}
	for _, init := range []func(context.Context) error{
		f.docs.Init, f.signers.Init, f.certs.Init, f.audits.Init, f.settings.Init, f.users.Init,
	} {
		require.NoError(t, init(ctx))
	}

	require.NoError(t, f.users.Create(ctx, db, &identity.User{
		ID: "u-owner", TenantID: f.tenantID, Name: "Dona Maria", Email: "maria@x.com",
		PasswordHash: "x", Role: "ADMIN", Status: identity.UserActive, CreatedAt: f.now,
	}))

	f.blobs, err = blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	chain := audit.NewChain(db, logger)
	obs, err := observability.New(ctx, &observability.Config{Enabled: false})
	require.NoError(t, err)

	f.service = NewService(db, f.docs, f.signers, f.certs, f.blobs, stamp.NewStaticStamper(),
		chain, f.sender, f.settings, f.users, obs, logger, "https://app.assinado.test",
		WithServiceClock(func() time.Time { return f.now }))
	return f
}

func (f *signingFixture) makeDocument(t *testing.T, signerNames ...string) (*documents.Document, []*signers.Signer) {
	t.Helper()
	ctx := context.Background()
	data := []byte("%PDF-1.4 corpo do contrato original")
	doc := &documents.Document{
		ID:        uuid.NewString(),
		TenantID:  f.tenantID,
		OwnerID:   "u-owner",
		Title:     "contract.pdf",
		MimeType:  "application/pdf",
		Size:      int64(len(data)),
		Sha256:    crypto.Sha256Hex(data),
		Status:    documents.StatusReady,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	doc.StorageKey = documents.StorageKey(f.tenantID, doc.ID, "contract.pdf")
	require.NoError(t, f.docs.Create(ctx, f.db, doc))
	require.NoError(t, f.blobs.Put(ctx, doc.StorageKey, data))

	var created []*signers.Signer
	for i, name := range signerNames {
		sg := &signers.Signer{
			DocumentID: doc.ID, Name: name, Email: name + "@x.com",
			Order: i + 1, Status: signers.StatusPending, CreatedAt: f.now,
		}
		require.NoError(t, f.signers.Create(ctx, f.db, sg))
		created = append(created, sg)
	}
	return doc, created
}

func pngImage() string {
	return base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a})
}

func TestCommitTwoSignerHappyPath(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()
	doc, sgs := f.makeDocument(t, "s1", "s2")
	originalSha := doc.Sha256

	first, err := f.service.Commit(ctx, doc, sgs[0], CommitInput{
		ClientFingerprint: "fp-1", SignatureImage: pngImage(), IP: "10.0.0.1", UserAgent: "ua",
	})
	require.NoError(t, err)
	assert.False(t, first.IsComplete)
	assert.Len(t, first.ShortCode, 6)
	assert.Equal(t, documents.StatusPartiallySigned, first.Document.Status)

	storedSigner, err := f.signers.GetByID(ctx, sgs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, signers.StatusSigned, storedSigner.Status)
	assert.NotEmpty(t, storedSigner.SignatureUUID)
	art, err := f.blobs.Get(ctx, storedSigner.ArtefactPath)
	require.NoError(t, err)
	assert.NotEmpty(t, art)

	second, err := f.service.Commit(ctx, doc, sgs[1], CommitInput{
		ClientFingerprint: "fp-2", SignatureImage: pngImage(), IP: "10.0.0.2", UserAgent: "ua",
	})
	require.NoError(t, err)
	assert.True(t, second.IsComplete)

	finalDoc, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusSigned, finalDoc.Status)
	assert.Contains(t, finalDoc.StorageKey, "-signed.pdf")
	assert.NotEqual(t, originalSha, finalDoc.Sha256)

	stamped, err := f.blobs.Get(ctx, finalDoc.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.Sha256Hex(stamped), finalDoc.Sha256)
	assert.Contains(t, string(stamped), "Registro de Assinaturas")
	assert.Contains(t, string(stamped), "s1")

	cert, err := f.certs.GetByDocument(ctx, doc.ID)
	require.NoError(t, err)
	timestamp := store.FormatTime(f.now.UTC())
	assert.Equal(t, crypto.Sha256Hex([]byte("CERT-"+doc.ID+timestamp)), cert.Sha256)
	assert.Equal(t, "certificates/"+doc.ID+".pdf", cert.StorageKey)

	events, err := f.audits.ListByEntity(ctx, doc.ID)
	require.NoError(t, err)
	var actions []audit.Action
	for _, ev := range events {
		actions = append(actions, ev.Action)
	}
	assert.Equal(t, []audit.Action{
		audit.ActionSigned, audit.ActionSigned,
		audit.ActionStatusChanged, audit.ActionCertificateIssued,
	}, actions)

	verdict := audit.VerifyEvents(events)
	assert.True(t, verdict.IsValid)

	// owner plus both signers
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		msg := f.sender.wait(t)
		seen[msg.To] = true
		assert.Contains(t, msg.HTML, "contract.pdf")
		assert.Contains(t, msg.HTML, doc.ID)
	}
	assert.True(t, seen["maria@x.com"])
	assert.True(t, seen["s1@x.com"])
	assert.True(t, seen["s2@x.com"])
}

func TestCommitUsesTenantTemplate(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.Upsert(ctx, &tenants.Settings{
		TenantID:           f.tenantID,
		FinalEmailTemplate: "Oi {{signer_name}}, {{doc_title}} concluído ({{doc_id}}).",
	}))
	doc, sgs := f.makeDocument(t, "solo")

	_, err := f.service.Commit(ctx, doc, sgs[0], CommitInput{
		ClientFingerprint: "fp", SignatureImage: pngImage(),
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		msg := f.sender.wait(t)
		if msg.To == "solo@x.com" {
			assert.Equal(t, "Oi solo, contract.pdf concluído ("+doc.ID+").", msg.HTML)
		}
	}
}

func TestCommitSignerRace(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()
	doc, sgs := f.makeDocument(t, "s1", "s2")

	_, err := f.service.Commit(ctx, doc, sgs[0], CommitInput{
		ClientFingerprint: "fp", SignatureImage: pngImage(),
	})
	require.NoError(t, err)

	// the second commit for the same signer loses on the status gate
	_, err = f.service.Commit(ctx, doc, sgs[0], CommitInput{
		ClientFingerprint: "fp", SignatureImage: pngImage(),
	})
	assert.ErrorIs(t, err, ErrSignerClosed)
}

func TestCommitClosedDocument(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()
	doc, sgs := f.makeDocument(t, "s1")
	require.NoError(t, f.docs.SetStatus(ctx, f.db, doc.ID, documents.StatusCancelled, f.now))

	_, err := f.service.Commit(ctx, doc, sgs[0], CommitInput{
		ClientFingerprint: "fp", SignatureImage: pngImage(),
	})
	assert.ErrorIs(t, err, ErrDocumentClosed)
}

func TestCommitImageValidation(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()
	doc, sgs := f.makeDocument(t, "s1", "s2")

	_, err := f.service.Commit(ctx, doc, sgs[0], CommitInput{ClientFingerprint: "fp"})
	assert.ErrorIs(t, err, ErrMissingImage)

	_, err = f.service.Commit(ctx, doc, sgs[0], CommitInput{
		ClientFingerprint: "fp", SignatureImage: "not!!base64",
	})
	assert.ErrorIs(t, err, ErrBadImage)

	// a data url is accepted
	_, err = f.service.Commit(ctx, doc, sgs[0], CommitInput{
		ClientFingerprint: "fp", SignatureImage: "data:image/png;base64," + pngImage(),
	})
	require.NoError(t, err)
}

func TestSignedStorageKey(t *testing.T) {
	assert.Equal(t, "uploads/t/d-signed.pdf", signedStorageKey("uploads/t/d.pdf"))
	assert.Equal(t, "uploads/t/d-signed", signedStorageKey("uploads/t/d"))
}
