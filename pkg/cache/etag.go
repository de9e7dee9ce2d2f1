package cache

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ETag returns a strong entity tag for body.
func ETag(body []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
}

// NotModified reports whether the request's If-None-Match header matches etag.
func NotModified(req *http.Request, etag string) bool {
	header := req.Header.Get("If-None-Match")
	if header == "" || etag == "" {
		return false
	}

	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			ConditionalResponses.Inc()
			return true
		}
	}
	return false
}
