package tiers

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed plans.yaml
var defaultCatalog []byte

// catalogSchema validates the plan catalog before any row reaches the
// database. Draft 2020-12.
const catalogSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["plans"],
  "properties": {
    "plans": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["slug", "name", "priceCents", "userLimit", "documentLimit"],
        "properties": {
          "slug": {"type": "string", "pattern": "^[a-z][a-z0-9-]*$"},
          "name": {"type": "string", "minLength": 1},
          "priceCents": {"type": "integer", "minimum": 0},
          "userLimit": {"type": "integer", "minimum": 1},
          "documentLimit": {"type": "integer", "minimum": 1},
          "features": {"type": "array", "items": {"type": "string"}}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

type catalogFile struct {
	Plans []struct {
		Slug          string   `yaml:"slug" json:"slug"`
		Name          string   `yaml:"name" json:"name"`
		PriceCents    int64    `yaml:"priceCents" json:"priceCents"`
		UserLimit     int      `yaml:"userLimit" json:"userLimit"`
		DocumentLimit int      `yaml:"documentLimit" json:"documentLimit"`
		Features      []string `yaml:"features" json:"features"`
	} `yaml:"plans" json:"plans"`
}

// ParseCatalog decodes and schema-validates a YAML plan catalog.
func ParseCatalog(raw []byte) ([]*Plan, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("tiers: failed to parse catalog yaml: %w", err)
	}

	// validate the YAML through its JSON projection
	asJSON, err := json.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("tiers: failed to re-encode catalog: %w", err)
	}
	var doc any
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return nil, fmt.Errorf("tiers: failed to decode catalog: %w", err)
	}

	schema, err := jsonschema.CompileString("plans.schema.json", catalogSchema)
	if err != nil {
		return nil, fmt.Errorf("tiers: failed to compile catalog schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("tiers: invalid plan catalog: %w", err)
	}

	plans := make([]*Plan, 0, len(file.Plans))
	for _, p := range file.Plans {
		features := p.Features
		if features == nil {
			features = []string{}
		}
		plans = append(plans, &Plan{
			Slug:          p.Slug,
			Name:          p.Name,
			PriceCents:    p.PriceCents,
			UserLimit:     p.UserLimit,
			DocumentLimit: p.DocumentLimit,
			Features:      features,
		})
	}
	return plans, nil
}

// Seed upserts the embedded catalog. Idempotent: existing slugs are
// updated in place, ids are preserved.
func (s *Store) Seed(ctx context.Context) error {
	return s.SeedFrom(ctx, defaultCatalog)
}

// SeedFrom upserts a caller-provided catalog, validating it first.
func (s *Store) SeedFrom(ctx context.Context, raw []byte) error {
	plans, err := ParseCatalog(raw)
	if err != nil {
		return err
	}
	for _, p := range plans {
		if existing, err := s.GetBySlug(ctx, p.Slug); err == nil {
			p.ID = existing.ID
		}
		if err := s.Upsert(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
