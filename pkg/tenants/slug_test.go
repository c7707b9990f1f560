package tenants

import (
	"regexp"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Advocacia São João", "advocacia-sao-joao"},
		{"Construtora Ltda.", "construtora-ltda"},
		{"  --Weird   Name--  ", "weird-name"},
		{"ACME", "acme"},
		{"José & Filhos", "jose-filhos"},
		{"123 Imóveis", "123-imoveis"},
		{"", "tenant"},
		{"!!!", "tenant"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Slugify(tc.in), "input %q", tc.in)
	}
}

func TestSlugSuffix(t *testing.T) {
	assert.Regexp(t, `^[0-9a-f]{4}$`, SlugSuffix())
}

// Slugs feed URLs and unique indexes, so the shape guarantees must hold
// for arbitrary display names, not just the curated cases above.
func TestSlugifyProperties(t *testing.T) {
	shape := regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("output is always url-safe", prop.ForAll(
		func(name string) bool {
			return shape.MatchString(Slugify(name))
		},
		gen.AnyString(),
	))

	properties.Property("slugify is idempotent", prop.ForAll(
		func(name string) bool {
			slug := Slugify(name)
			return Slugify(slug) == slug
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
