package jembatan

import (
	"net/http"
	"testing"
)

func TestParseCacheControl(t *testing.T) {
	tests := []struct {
		header  string
		noStore bool
		noCache bool
	}{
		{"", false, false},
		{"no-store", true, false},
		{"No-Store, max-age=0", true, false},
		{"no-cache", false, true},
		{"private, no-cache=\"Set-Cookie\"", false, true},
		{"max-age=60, public", false, false},
	}

	for _, tt := range tests {
		d := parseCacheControl(tt.header)
		if d.NoStore != tt.noStore || d.NoCache != tt.noCache {
			t.Errorf("parseCacheControl(%q) = %+v, want noStore=%v noCache=%v", tt.header, d, tt.noStore, tt.noCache)
		}
	}
}

func TestStorable(t *testing.T) {
	h := http.Header{}
	if !storable(h) {
		t.Error("Expected response without Cache-Control to be storable")
	}
	h.Set("Cache-Control", "no-store")
	if storable(h) {
		t.Error("Expected no-store response not to be storable")
	}
}

func TestStorableNoCache(t *testing.T) {
	h := http.Header{}
	h.Set("Cache-Control", "no-cache")
	if storable(h) {
		t.Error("Expected no-cache response without an ETag not to be storable")
	}
	if !mustRevalidate(h) {
		t.Error("Expected no-cache response to require revalidation")
	}

	h.Set("ETag", `"v1"`)
	if !storable(h) {
		t.Error("Expected no-cache response with an ETag to be storable")
	}

	if mustRevalidate(http.Header{}) {
		t.Error("Expected plain response not to require revalidation")
	}
}

func TestRevalidationTokenFrom(t *testing.T) {
	if got := revalidationTokenFrom(nil); got != "" {
		t.Errorf("Expected empty token for nil header, got %q", got)
	}

	h := http.Header{}
	h.Set("ETag", ` W/"abc" `)
	if got := revalidationTokenFrom(h); got != `W/"abc"` {
		t.Errorf("Expected W/\"abc\", got %q", got)
	}
}

func TestAddConditionalHeader(t *testing.T) {
	h := http.Header{}
	addConditionalHeader(h, "")
	if h.Get("If-None-Match") != "" {
		t.Error("Expected no If-None-Match for empty token")
	}

	addConditionalHeader(h, `"v1"`)
	if got := h.Get("If-None-Match"); got != `"v1"` {
		t.Errorf("Expected If-None-Match \"v1\", got %q", got)
	}
}

func TestIsNotModified(t *testing.T) {
	if !isNotModified(http.StatusNotModified) {
		t.Error("Expected 304 to be not modified")
	}
	if isNotModified(http.StatusOK) {
		t.Error("Expected 200 not to be not modified")
	}
}
