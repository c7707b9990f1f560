package tiers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assinado-app/assinado/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewStore(db)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestSeed_DefaultCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Seed(ctx))

	free, err := s.GetBySlug(ctx, SlugGratuito)
	require.NoError(t, err)
	assert.False(t, free.Paid())
	assert.Equal(t, 1, free.UserLimit)
	assert.Equal(t, 3, free.DocumentLimit)

	for _, slug := range []string{SlugBasico, SlugProfissional, SlugEmpresa} {
		p, err := s.GetBySlug(ctx, slug)
		require.NoError(t, err)
		assert.True(t, p.Paid(), slug)
	}
}

func TestSeed_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Seed(ctx))
	first, err := s.GetBySlug(ctx, SlugBasico)
	require.NoError(t, err)

	require.NoError(t, s.Seed(ctx))
	second, err := s.GetBySlug(ctx, SlugBasico)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-seeding must preserve plan ids")

	plans, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 4)
}

func TestSeed_SuperAdminEditSurvivesShape(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx))

	p, err := s.GetBySlug(ctx, SlugGratuito)
	require.NoError(t, err)
	p.DocumentLimit = 5
	require.NoError(t, s.Upsert(ctx, p))

	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.DocumentLimit)
}

func TestParseCatalog_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative price": `
plans:
  - slug: gratuito
    name: Gratuito
    priceCents: -1
    userLimit: 1
    documentLimit: 3`,
		"zero user limit": `
plans:
  - slug: gratuito
    name: Gratuito
    priceCents: 0
    userLimit: 0
    documentLimit: 3`,
		"bad slug": `
plans:
  - slug: "Grátis!"
    name: Gratuito
    priceCents: 0
    userLimit: 1
    documentLimit: 3`,
		"empty catalog": `plans: []`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestGetBySlug_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBySlug(context.Background(), "enterprise-plus")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}
