package cache

import (
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "derived page key",
			key: Key{
				Namespace: "pages",
				ID:        "letei-space",
				Currency:  "KES",
				Version:   "v1",
			},
			want: "pages:letei-space:KES:v1",
		},
		{
			name: "currency is upper-cased",
			key: Key{
				Namespace: "pages",
				ID:        "pricing",
				Currency:  " usd ",
				Version:   "v1",
			},
			want: "pages:pricing:USD:v1",
		},
		{
			name: "timestamp version",
			key: Key{
				Namespace: "pages",
				ID:        "pricing",
				Currency:  "EUR",
				Version:   "v1760000000000",
			},
			want: "pages:pricing:EUR:v1760000000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKey_Deterministic(t *testing.T) {
	key := Key{Namespace: "pages", ID: "pricing", Currency: "KES", Version: "v2"}

	first := key.String()
	for i := 0; i < 100; i++ {
		if got := key.String(); got != first {
			t.Fatalf("iteration %d: String() = %v, want %v", i, got, first)
		}
	}
}

func TestKey_VersionChangesKey(t *testing.T) {
	oldKey := Key{Namespace: "pages", ID: "pricing", Currency: "KES", Version: "v1"}
	newKey := oldKey
	newKey.Version = "v2"

	if oldKey.String() == newKey.String() {
		t.Errorf("keys for different versions collide: %v", oldKey.String())
	}
}

func TestRateKey(t *testing.T) {
	tests := []struct {
		base   string
		target string
		want   string
	}{
		{"USD", "KES", "rate:USD:KES"},
		{"usd", "eur", "rate:USD:EUR"},
		{" USD", "GBP ", "rate:USD:GBP"},
	}

	for _, tt := range tests {
		if got := RateKey(tt.base, tt.target); got != tt.want {
			t.Errorf("RateKey(%q, %q) = %v, want %v", tt.base, tt.target, got, tt.want)
		}
	}
}

func TestValidCurrency(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"KES", true},
		{"USD", true},
		{"usd", false},
		{"", false},
		{"KE", false},
		{"KESX", false},
		{"B:C", false},
		{"K3S", false},
		{"ÄBC", false},
	}

	for _, tt := range tests {
		if got := ValidCurrency(tt.code); got != tt.want {
			t.Errorf("ValidCurrency(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestVersionKey(t *testing.T) {
	if got := VersionKey("pages"); got != "version:pages" {
		t.Errorf("VersionKey() = %v, want version:pages", got)
	}
}
