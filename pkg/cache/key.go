package cache

import (
	"strings"
)

// Key identifies one cached page representation.
type Key struct {
	// Namespace groups keys of one kind (e.g., "pages")
	Namespace string

	// ID is the entity identifier (page slug)
	ID string

	// Currency is the currency the cached value is denominated in
	Currency string

	// Version is the cache version token current when the key was computed
	Version string
}

// String generates a deterministic cache key string.
// Format: namespace:id:CURRENCY:version
// Parts must not contain ':'; ids and currencies are validated before a key is built.
//
// Example:
//
//	pages:letei-space:KES:v1
func (k Key) String() string {
	return strings.Join([]string{
		strings.TrimSpace(k.Namespace),
		strings.TrimSpace(k.ID),
		NormalizeCurrency(k.Currency),
		k.Version,
	}, ":")
}

// RateKey returns the shared-cache key of an FX rate.
// Format: rate:BASE:TARGET
func RateKey(base, target string) string {
	return "rate:" + NormalizeCurrency(base) + ":" + NormalizeCurrency(target)
}

// VersionKey returns the shared-cache key holding the version token of a namespace.
func VersionKey(namespace string) string {
	return "version:" + strings.TrimSpace(namespace)
}

// NormalizeCurrency trims and upper-cases a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCurrency reports whether code is a normalized three-letter code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}
