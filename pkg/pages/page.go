package pages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/letei/pagecache/pkg/cache"
	"github.com/letei/pagecache/pkg/projection"
)

var (
	// ErrNotFound is returned by a Store when no page exists for an id
	ErrNotFound = errors.New("page not found")

	// ErrInvalidID is returned for an empty page id or one containing ':'
	ErrInvalidID = errors.New("invalid page id")

	// ErrInvalidCurrency is returned for a currency that is not a three-letter code
	ErrInvalidCurrency = errors.New("invalid currency code")
)

// Metadata fields set on every page served by the Manager.
const (
	FieldCurrency        = "currency"
	FieldBackendCurrency = "backendCurrency"
	FieldConversionRate  = "conversionRate"
	FieldConverted       = "converted"
)

// Page is a decoded JSON content page.
type Page map[string]any

// Clone returns a deep copy of p.
func (p Page) Clone() Page {
	if p == nil {
		return nil
	}
	return Page(projection.Clone(map[string]any(p)).(map[string]any))
}

// Currency returns the currency the page is denominated in.
func (p Page) Currency() string {
	s, _ := p[FieldCurrency].(string)
	return s
}

// Store is the system of record for canonical pages.
type Store interface {
	// FindByID returns the page stored under id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (Page, error)

	// Create stores a new page.
	Create(ctx context.Context, id string, data Page) (Page, error)

	// Update replaces an existing page, or returns ErrNotFound.
	Update(ctx context.Context, id string, data Page) (Page, error)

	// Delete removes a page and returns it, or returns ErrNotFound.
	Delete(ctx context.Context, id string) (Page, error)
}

// NormalizeID trims an id and rejects empty ones. The key separator ':' is
// not allowed, so two ids can never map to the same cache key.
func NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, ":") {
		return "", ErrInvalidID
	}
	return id, nil
}

// NormalizeCurrency upper-cases code and checks it is a three-letter code.
func NormalizeCurrency(code string) (string, error) {
	normalized := cache.NormalizeCurrency(code)
	if !cache.ValidCurrency(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return normalized, nil
}

// structuredFields may arrive from the store as JSON-encoded strings.
var structuredFields = []string{
	"features",
	"plans",
	"offerings",
	"integrations",
	"useCases",
	"faq",
	"metrics",
	"testimonials",
	"technicalNotes",
	"trustedMetrics",
	"seo",
	"cta",
}

// Normalize returns a copy of p with string-encoded structured fields decoded.
// A string that is not valid JSON is kept as-is.
func Normalize(p Page) Page {
	out := p.Clone()
	if out == nil {
		out = Page{}
	}

	for _, field := range structuredFields {
		s, ok := out[field].(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(s)
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			continue
		}
		out[field] = decoded
	}

	return out
}
