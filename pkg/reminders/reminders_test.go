package reminders

import (
	"context"
	"io"
	"log/slog"
	"regexp"
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
	"github.com/assinado-app/assinado/pkg/quota"
	"github.com/assinado-app/assinado/pkg/signers"
	"github.com/assinado-app/assinado/pkg/store"
	"github.com/assinado-app/assinado/pkg/tenants"
	"github.com/assinado-app/assinado/pkg/tiers"
)

type oneUser struct{}

func (oneUser) CountActiveOwned(context.Context, string) (int, error) { return 1, nil }

type noMembers struct{}

func (noMembers) CountNotDeclined(context.Context, string) (int, error) { return 0, nil }

type ownerNames struct{}

func (ownerNames) UserName(context.Context, string) (string, error) { return "Dona Maria", nil }

type mailCapture struct {
	emails chan notify.EmailMessage
}

func (c *mailCapture) SendEmail(_ context.Context, _ string, msg notify.EmailMessage) error {
	c.emails <- msg
	return nil
}

func (c *mailCapture) SendWhatsAppText(context.Context, string, notify.WhatsAppMessage) error {
	return nil
}

type schedulerFixture struct {
	db        *store.DB
	scheduler *Scheduler
	docs      *documents.Store
	signers   *signers.Service
	signerDB  *signers.Store
	audits    *audit.Store
	sender    *mailCapture
	tenant    *tenants.Tenant
	now       time.Time
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &schedulerFixture{
		db:       db,
		docs:     documents.NewStore(db),
		signerDB: signers.NewStore(db),
		audits:   audit.NewStore(db),
		sender:   &mailCapture{emails: make(chan notify.EmailMessage, 8)},
		now:      time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC),
	}
	folders := documents.NewFolderStore(db)
	tenantStore := tenants.NewTenantStore(db)
	planStore := tiers.NewStore(db)
	tokens := signers.NewTokenStore(db)
	otps := identity.NewOTPStore(db)
	for _, init := range []func(context.Context) error{
		f.docs.Init, folders.Init, tenantStore.Init, planStore.Init,
		f.audits.Init, f.signerDB.Init, tokens.Init, otps.Init,
	} {
		require.NoError(t, init(ctx))
	}
	require.NoError(t, planStore.Seed(ctx))

	plan, err := planStore.GetBySlug(ctx, tiers.SlugProfissional)
	require.NoError(t, err)
	f.tenant = &tenants.Tenant{Name: "Lembrete Co", Slug: "lembrete-co",
		Status: tenants.TenantActive, PlanID: plan.ID, CreatedAt: f.now}
	require.NoError(t, tenantStore.Create(ctx, db, f.tenant))

	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	chain := audit.NewChain(db, logger)
	clock := func() time.Time { return f.now }

	f.signers = signers.NewService(db, f.signerDB, tokens, f.docs, blobs, otps,
		chain, f.sender, logger, "https://app.assinado.test",
		signers.WithServiceClock(clock))
	gate := quota.NewGate(oneUser{}, noMembers{}, f.docs)
	docsSvc := documents.NewService(db, f.docs, folders, blobs, gate, tenantStore,
		planStore, chain, f.signers, ownerNames{}, logger,
		documents.WithServiceClock(clock))

	f.scheduler = NewScheduler(f.docs, docsSvc, f.signers, logger, WithClock(clock))
	return f
}

func (f *schedulerFixture) makeDocument(t *testing.T, deadline time.Time, autoReminders bool) *documents.Document {
	t.Helper()
	ctx := context.Background()
	data := []byte("%PDF-1.4 " + uuid.NewString())
	doc := &documents.Document{
		ID:            uuid.NewString(),
		TenantID:      f.tenant.ID,
		OwnerID:       "u-owner",
		Title:         "Prazo Apertado",
		MimeType:      "application/pdf",
		Size:          int64(len(data)),
		Sha256:        crypto.Sha256Hex(data),
		DeadlineAt:    &deadline,
		AutoReminders: autoReminders,
		Status:        documents.StatusReady,
		CreatedAt:     f.now,
		UpdatedAt:     f.now,
	}
	doc.StorageKey = documents.StorageKey(f.tenant.ID, doc.ID, "doc.pdf")
	require.NoError(t, f.docs.Create(ctx, f.db, doc))
	return doc
}

func (f *schedulerFixture) addSigner(t *testing.T, doc *documents.Document, name string, status signers.Status) *signers.Signer {
	t.Helper()
	sg := &signers.Signer{
		DocumentID: doc.ID, Name: name, Email: name + "@x.com",
		Status: status, CreatedAt: f.now,
	}
	require.NoError(t, f.signerDB.Create(context.Background(), f.db, sg))
	return sg
}

var reminderLink = regexp.MustCompile(`/sign/([A-Za-z0-9_=-]+)`)

func TestRunReminders(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	due := f.makeDocument(t, f.now.Add(12*time.Hour), true)
	f.addSigner(t, due, "pendente", signers.StatusPending)
	f.addSigner(t, due, "assinado", signers.StatusSigned)

	farOff := f.makeDocument(t, f.now.Add(72*time.Hour), true)
	f.addSigner(t, farOff, "longe", signers.StatusPending)

	optedOut := f.makeDocument(t, f.now.Add(12*time.Hour), false)
	f.addSigner(t, optedOut, "quieto", signers.StatusPending)

	docs, err := f.scheduler.DueReminders(ctx, f.now)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, due.ID, docs[0].ID)

	require.NoError(t, f.scheduler.RunReminders(ctx, f.now))

	select {
	case msg := <-f.sender.emails:
		assert.Equal(t, "pendente@x.com", msg.To)
		match := reminderLink.FindStringSubmatch(msg.HTML)
		require.NotNil(t, match, "reminder must carry a signing link")

		// the freshly minted link resolves
		sess, err := f.signers.ResolveToken(ctx, match[1])
		require.NoError(t, err)
		assert.Equal(t, due.ID, sess.Document.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no reminder delivered")
	}

	select {
	case msg := <-f.sender.emails:
		t.Fatalf("unexpected extra reminder to %s", msg.To)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestExpireOverdue(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	overdue := f.makeDocument(t, f.now.Add(-time.Hour), true)
	f.addSigner(t, overdue, "atrasado", signers.StatusPending)
	fresh := f.makeDocument(t, f.now.Add(12*time.Hour), true)

	n, err := f.scheduler.ExpireOverdue(ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.docs.GetByID(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusExpired, stored.Status)

	untouched, err := f.docs.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusReady, untouched.Status)

	events, err := f.audits.ListByEntity(ctx, overdue.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionStatusChanged, events[0].Action)
	assert.Equal(t, audit.ActorSystem, events[0].ActorKind)
	assert.Equal(t, string(documents.StatusExpired), events[0].Payload["newStatus"])

	// the sweep is idempotent
	n, err = f.scheduler.ExpireOverdue(ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
