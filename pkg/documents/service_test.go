package documents

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assinado-app/assinado/pkg/audit"
	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/blob"
	"github.com/assinado-app/assinado/pkg/crypto"
	"github.com/assinado-app/assinado/pkg/quota"
	"github.com/assinado-app/assinado/pkg/store"
	"github.com/assinado-app/assinado/pkg/tenants"
	"github.com/assinado-app/assinado/pkg/tiers"
)

type zeroUsers struct{}

func (zeroUsers) CountActiveOwned(context.Context, string) (int, error) { return 1, nil }

type zeroMembers struct{}

func (zeroMembers) CountNotDeclined(context.Context, string) (int, error) { return 0, nil }

type staticNames struct{}

func (staticNames) UserName(context.Context, string) (string, error) { return "Dona Maria", nil }

type staticSigners struct {
	infos []SignerInfo
}

func (s *staticSigners) SignerInfos(context.Context, string) ([]SignerInfo, error) {
	return s.infos, nil
}

type docFixture struct {
	db      *store.DB
	service *Service
	docs    *Store
	folders *FolderStore
	blobs   blob.Store
	tenant  *tenants.Tenant
	audits  *audit.Store
	signers *staticSigners
}

func newDocFixture(t *testing.T, planSlug string) *docFixture {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	docs := NewStore(db)
	folders := NewFolderStore(db)
	tenantStore := tenants.NewTenantStore(db)
	planStore := tiers.NewStore(db)
	auditStore := audit.NewStore(db)
	for _, init := range []func(context.Context) error{docs.Init, folders.Init, tenantStore.Init, planStore.Init, auditStore.Init} {
		require.NoError(t, init(ctx))
	}
	require.NoError(t, planStore.Seed(ctx))

	plan, err := planStore.GetBySlug(ctx, planSlug)
	require.NoError(t, err)
	tenant := &tenants.Tenant{Name: "Doc Co", Slug: "doc-co", Status: tenants.TenantActive, PlanID: plan.ID, CreatedAt: time.Now().UTC()}
	require.NoError(t, tenantStore.Create(ctx, db, tenant))

	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	gate := quota.NewGate(zeroUsers{}, zeroMembers{}, docs)
	chain := audit.NewChain(db, logger)
	signers := &staticSigners{}

	service := NewService(db, docs, folders, blobs, gate, tenantStore, planStore,
		chain, signers, staticNames{}, logger)
	return &docFixture{db: db, service: service, docs: docs, folders: folders,
		blobs: blobs, tenant: tenant, audits: auditStore, signers: signers}
}

func (f *docFixture) principal() *auth.Principal {
	return &auth.Principal{ID: "u-owner", TenantID: f.tenant.ID, Role: auth.RoleAdmin}
}

func (f *docFixture) upload(t *testing.T, name string, data []byte) *Document {
	t.Helper()
	doc, err := f.service.Upload(context.Background(), f.principal(), UploadInput{
		FileName: name, MimeType: "application/pdf", Data: data,
	})
	require.NoError(t, err)
	return doc
}

func TestUpload(t *testing.T) {
	f := newDocFixture(t, tiers.SlugProfissional)
	ctx := context.Background()

	data := []byte("%PDF-1.4 contrato")
	doc := f.upload(t, "Contrato Final.pdf", data)

	assert.Equal(t, StatusReady, doc.Status)
	assert.Equal(t, "Contrato Final.pdf", doc.Title)
	assert.Equal(t, crypto.Sha256Hex(data), doc.Sha256)
	assert.Equal(t, "uploads/"+f.tenant.ID+"/"+doc.ID+".pdf", doc.StorageKey)
	assert.Equal(t, int64(len(data)), doc.Size)

	stored, err := f.blobs.Get(ctx, doc.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	events, err := f.audits.ListByEntity(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionStorageUploaded, events[0].Action)
	assert.Equal(t, doc.Sha256, events[0].Payload["sha256"])
}

func TestUpload_Rejections(t *testing.T) {
	f := newDocFixture(t, tiers.SlugGratuito) // 3-document limit
	ctx := context.Background()

	_, err := f.service.Upload(ctx, f.principal(), UploadInput{FileName: "x.pdf", MimeType: "application/pdf"})
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = f.service.Upload(ctx, f.principal(), UploadInput{
		FileName: "x.pdf", MimeType: "application/pdf", Data: []byte("d"), FolderID: "nope",
	})
	assert.ErrorIs(t, err, ErrFolderNotFound)

	for i := 0; i < 3; i++ {
		f.upload(t, "doc.pdf", []byte{byte(i)})
	}
	_, err = f.service.Upload(ctx, f.principal(), UploadInput{
		FileName: "over.pdf", MimeType: "application/pdf", Data: []byte("over"),
	})
	assert.ErrorIs(t, err, quota.ErrDocumentLimit)
}

func TestUpload_IrregularSubscriptionBlocksPaidPlan(t *testing.T) {
	f := newDocFixture(t, tiers.SlugBasico)
	ctx := context.Background()

	tenantStore := tenants.NewTenantStore(f.db)
	require.NoError(t, tenantStore.UpdateSubscription(ctx, f.tenant.ID, "cus_1", "sub_1", tenants.SubscriptionOverdue))

	_, err := f.service.Upload(ctx, f.principal(), UploadInput{
		FileName: "x.pdf", MimeType: "application/pdf", Data: []byte("d"),
	})
	assert.ErrorIs(t, err, quota.ErrSubscriptionIrregular)

	// super admin bypasses the subscription gate
	super := &auth.Principal{ID: "root", TenantID: f.tenant.ID, Role: auth.RoleSuperAdmin}
	_, err = f.service.Upload(ctx, super, UploadInput{
		FileName: "x.pdf", MimeType: "application/pdf", Data: []byte("d"),
	})
	require.NoError(t, err)
}

func TestListFilters(t *testing.T) {
	f := newDocFixture(t, tiers.SlugEmpresa)
	ctx := context.Background()
	p := f.principal()

	ready := f.upload(t, "ready.pdf", []byte("r"))
	signed := f.upload(t, "signed.pdf", []byte("s"))
	cancelled := f.upload(t, "cancelled.pdf", []byte("c"))
	expired := f.upload(t, "expired.pdf", []byte("e"))

	require.NoError(t, f.docs.SetStatus(ctx, f.db, signed.ID, StatusSigned, time.Now()))
	_, err := f.service.Cancel(ctx, p, cancelled.ID, "", "")
	require.NoError(t, err)
	_, err = f.service.Expire(ctx, p, expired.ID, "", "")
	require.NoError(t, err)

	ids := func(docs []*Document) []string {
		var out []string
		for _, d := range docs {
			out = append(out, d.ID)
		}
		return out
	}

	pending, err := f.service.List(ctx, p, FilterPending)
	require.NoError(t, err)
	assert.Equal(t, []string{ready.ID}, ids(pending))

	completed, err := f.service.List(ctx, p, FilterCompleted)
	require.NoError(t, err)
	assert.Equal(t, []string{signed.ID}, ids(completed))

	trash, err := f.service.List(ctx, p, FilterTrash)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{cancelled.ID, expired.ID}, ids(trash))

	// default view hides cancelled only
	all, err := f.service.List(ctx, p, "")
	require.NoError(t, err)
	assert.NotContains(t, ids(all), cancelled.ID)
	assert.Contains(t, ids(all), expired.ID)
}

func TestTransitions(t *testing.T) {
	f := newDocFixture(t, tiers.SlugEmpresa)
	ctx := context.Background()
	p := f.principal()

	doc := f.upload(t, "doc.pdf", []byte("d"))
	cancelled, err := f.service.Cancel(ctx, p, doc.ID, "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// terminal states refuse further transitions
	_, err = f.service.Expire(ctx, p, doc.ID, "", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	events, err := f.audits.ListByEntity(ctx, doc.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, audit.ActionStatusChanged, last.Action)
	assert.Equal(t, string(StatusCancelled), last.Payload["newStatus"])
}

func TestGet_CrossTenantReadsAsNotFound(t *testing.T) {
	f := newDocFixture(t, tiers.SlugEmpresa)
	doc := f.upload(t, "doc.pdf", []byte("d"))

	intruder := &auth.Principal{ID: "u-other", TenantID: "other-tenant", Role: auth.RoleAdmin}
	_, err := f.service.Get(context.Background(), intruder, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestStats(t *testing.T) {
	f := newDocFixture(t, tiers.SlugEmpresa)
	ctx := context.Background()
	p := f.principal()

	f.upload(t, "a.pdf", []byte("aa"))
	signed := f.upload(t, "b.pdf", []byte("bbb"))
	cancelled := f.upload(t, "c.pdf", []byte("cccc"))
	require.NoError(t, f.docs.SetStatus(ctx, f.db, signed.ID, StatusSigned, time.Now()))
	_, err := f.service.Cancel(ctx, p, cancelled.ID, "", "")
	require.NoError(t, err)

	stats, err := f.service.Stats(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Signed)
	assert.Equal(t, 2, stats.Total) // cancelled excluded
	assert.Equal(t, int64(2+3), stats.SizeBytes)
	require.NotEmpty(t, stats.Recent)
	assert.Equal(t, "Dona Maria", stats.Recent[0].OwnerName)
}

func TestDownload(t *testing.T) {
	f := newDocFixture(t, tiers.SlugEmpresa)
	ctx := context.Background()
	data := []byte("%PDF download me")
	doc := f.upload(t, "dl.pdf", data)

	got, bytes, err := f.service.Download(ctx, f.principal(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, data, bytes)

	events, err := f.audits.ListByEntity(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionDownloaded, events[len(events)-1].Action)
}

func TestValidateBuffer(t *testing.T) {
	f := newDocFixture(t, tiers.SlugEmpresa)
	ctx := context.Background()
	data := []byte("%PDF validate me")
	doc := f.upload(t, "val.pdf", data)

	// not signed yet
	res, err := f.service.ValidateBuffer(ctx, data)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonNotSigned, res.Reason)
	assert.Equal(t, crypto.Sha256Hex(data), res.HashCalculated)

	// unknown bytes
	res, err = f.service.ValidateBuffer(ctx, []byte("never uploaded"))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonNotFound, res.Reason)

	signedAt := time.Now().UTC()
	require.NoError(t, f.docs.SetStatus(ctx, f.db, doc.ID, StatusSigned, signedAt))
	f.signers.infos = []SignerInfo{{Name: "João", Email: "joao@x.com", Status: "SIGNED", SignedAt: &signedAt}}

	res, err = f.service.ValidateBuffer(ctx, data)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, doc.Title, res.Title)
	assert.Equal(t, "Dona Maria", res.OwnerName)
	require.Len(t, res.Signers, 1)
	assert.Equal(t, "joao@x.com", res.Signers[0].Email)
}

func TestFolders(t *testing.T) {
	f := newDocFixture(t, tiers.SlugEmpresa)
	ctx := context.Background()
	folders := f.folders

	root := &Folder{TenantID: f.tenant.ID, OwnerID: "u-owner", Name: "Contratos"}
	require.NoError(t, folders.Create(ctx, root))
	child := &Folder{TenantID: f.tenant.ID, OwnerID: "u-owner", ParentID: root.ID, Name: "2026"}
	require.NoError(t, folders.Create(ctx, child))

	// moving a folder under its own descendant is rejected
	assert.ErrorIs(t, folders.Move(ctx, f.tenant.ID, root.ID, child.ID), ErrFolderCycle)
	assert.ErrorIs(t, folders.Move(ctx, f.tenant.ID, root.ID, root.ID), ErrFolderCycle)

	sibling := &Folder{TenantID: f.tenant.ID, OwnerID: "u-owner", Name: "Arquivo"}
	require.NoError(t, folders.Create(ctx, sibling))
	require.NoError(t, folders.Move(ctx, f.tenant.ID, child.ID, sibling.ID))

	moved, err := folders.GetForTenant(ctx, f.tenant.ID, child.ID)
	require.NoError(t, err)
	assert.Equal(t, sibling.ID, moved.ParentID)

	// upload into a folder, then delete it: the document falls to root
	doc, err := f.service.Upload(ctx, f.principal(), UploadInput{
		FileName: "in-folder.pdf", MimeType: "application/pdf", Data: []byte("d"), FolderID: sibling.ID,
	})
	require.NoError(t, err)
	require.NoError(t, folders.Delete(ctx, f.tenant.ID, sibling.ID))

	reloaded, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.FolderID)

	// the orphaned child re-parented up to the deleted folder's parent
	orphan, err := folders.GetForTenant(ctx, f.tenant.ID, child.ID)
	require.NoError(t, err)
	assert.Empty(t, orphan.ParentID)
}
