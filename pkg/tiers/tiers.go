// Package tiers holds the plan catalog: per-plan pricing, user and
// document limits, and feature lists. Plans are seeded once from an
// embedded catalog and remain mutable by super-admins.
package tiers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/assinado-app/assinado/pkg/store"
)

var ErrPlanNotFound = errors.New("tiers: plan not found")

// Known plan slugs. The catalog may grow; these are the seeded four.
const (
	SlugGratuito     = "gratuito"
	SlugBasico       = "basico"
	SlugProfissional = "profissional"
	SlugEmpresa      = "empresa"
)

// Plan is one catalog row. Price is in cents to keep arithmetic exact;
// a plan is paid iff PriceCents > 0.
type Plan struct {
	ID            string   `json:"id"`
	Slug          string   `json:"slug"`
	Name          string   `json:"name"`
	PriceCents    int64    `json:"priceCents"`
	UserLimit     int      `json:"userLimit"`
	DocumentLimit int      `json:"documentLimit"`
	Features      []string `json:"features"`
}

// Paid reports whether subscription gating applies to this plan.
func (p *Plan) Paid() bool { return p.PriceCents > 0 }

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id             TEXT PRIMARY KEY,
	slug           TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL,
	price_cents    INTEGER NOT NULL,
	user_limit     INTEGER NOT NULL,
	document_limit INTEGER NOT NULL,
	features       TEXT NOT NULL DEFAULT '[]'
);
`

// Store persists the plan catalog.
type Store struct {
	db *store.DB
}

func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("tiers: failed to init schema: %w", err)
	}
	return nil
}

const planColumns = `id, slug, name, price_cents, user_limit, document_limit, features`

func scanPlan(row interface{ Scan(...any) error }) (*Plan, error) {
	var p Plan
	var features string
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.PriceCents, &p.UserLimit, &p.DocumentLimit, &features); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("tiers: failed to scan plan: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
		return nil, fmt.Errorf("tiers: failed to decode features of %s: %w", p.Slug, err)
	}
	return &p, nil
}

// GetBySlug resolves a plan by its unique slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE slug = $1`, slug)
	return scanPlan(row)
}

// GetByID resolves a plan by id.
func (s *Store) GetByID(ctx context.Context, id string) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	return scanPlan(row)
}

// List returns the catalog ordered by price.
func (s *Store) List(ctx context.Context) ([]*Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans ORDER BY price_cents ASC, slug ASC`)
	if err != nil {
		return nil, fmt.Errorf("tiers: failed to list plans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tiers: failed to iterate plans: %w", err)
	}
	return plans, nil
}

// Upsert inserts a plan or, when the slug already exists, updates its
// mutable fields in place. Used by seeding and by super-admin edits.
func (s *Store) Upsert(ctx context.Context, p *Plan) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	features, err := json.Marshal(p.Features)
	if err != nil {
		return fmt.Errorf("tiers: failed to encode features: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (`+planColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (slug) DO UPDATE SET
			name = excluded.name,
			price_cents = excluded.price_cents,
			user_limit = excluded.user_limit,
			document_limit = excluded.document_limit,
			features = excluded.features`,
		p.ID, p.Slug, p.Name, p.PriceCents, p.UserLimit, p.DocumentLimit, string(features))
	if err != nil {
		return fmt.Errorf("tiers: failed to upsert plan %s: %w", p.Slug, err)
	}
	return nil
}
