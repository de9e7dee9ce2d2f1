package cache

import (
	"net/http/httptest"
	"testing"
)

func TestETag(t *testing.T) {
	a := ETag([]byte(`{"id":"pricing"}`))
	b := ETag([]byte(`{"id":"pricing"}`))
	c := ETag([]byte(`{"id":"landing"}`))

	if a != b {
		t.Errorf("ETag() not deterministic: %v != %v", a, b)
	}
	if a == c {
		t.Errorf("ETag() collides for different bodies: %v", a)
	}
	if a[0] != '"' || a[len(a)-1] != '"' {
		t.Errorf("ETag() = %v, want quoted value", a)
	}
}

func TestNotModified(t *testing.T) {
	etag := ETag([]byte("body"))

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "no header", header: "", want: false},
		{name: "exact match", header: etag, want: true},
		{name: "weak match", header: "W/" + etag, want: true},
		{name: "list match", header: `"other", ` + etag, want: true},
		{name: "wildcard", header: "*", want: true},
		{name: "mismatch", header: `"other"`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/pages/pricing", nil)
			if tt.header != "" {
				req.Header.Set("If-None-Match", tt.header)
			}
			if got := NotModified(req, etag); got != tt.want {
				t.Errorf("NotModified() = %v, want %v", got, tt.want)
			}
		})
	}
}
