package jembatan

import (
	"net/http"
	"strings"
)

// cacheDirectives holds the Cache-Control directives the client honours.
type cacheDirectives struct {
	NoStore bool
	NoCache bool
}

// parseCacheControl parses a Cache-Control header. Unknown directives and
// directive values are ignored.
func parseCacheControl(header string) cacheDirectives {
	var directives cacheDirectives
	if header == "" {
		return directives
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if name, _, found := strings.Cut(part, "="); found {
			part = strings.TrimSpace(name)
		}
		switch part {
		case "no-store":
			directives.NoStore = true
		case "no-cache":
			directives.NoCache = true
		}
	}
	return directives
}

// storable reports whether a successful response may be written to the cache.
// A no-cache response is only worth keeping when it carries a validator.
func storable(header http.Header) bool {
	directives := parseCacheControl(header.Get("Cache-Control"))
	if directives.NoStore {
		return false
	}
	return !directives.NoCache || revalidationTokenFrom(header) != ""
}

// mustRevalidate reports whether a stored response has to be confirmed by the
// origin before every use.
func mustRevalidate(header http.Header) bool {
	return parseCacheControl(header.Get("Cache-Control")).NoCache
}

// revalidationTokenFrom extracts the ETag used for later conditional requests.
func revalidationTokenFrom(header http.Header) string {
	if header == nil {
		return ""
	}
	return strings.TrimSpace(header.Get("ETag"))
}

// addConditionalHeader attaches If-None-Match for a stored revalidation token.
func addConditionalHeader(header http.Header, token string) {
	if token == "" {
		return
	}
	header.Set("If-None-Match", token)
}

// isNotModified checks if a status indicates the cached version is still valid.
func isNotModified(status int) bool {
	return status == http.StatusNotModified
}
