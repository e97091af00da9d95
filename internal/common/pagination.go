package common

import (
	"net/http"
	"strconv"
)

// ParseLimitOffset reads limit/offset query parameters, clamping the limit to
// [1, max] and the offset to non-negative. Unparseable values fall back to
// the defaults.
func ParseLimitOffset(r *http.Request, def, max int) (limit, offset int) {
	limit = def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > max {
		limit = max
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}
