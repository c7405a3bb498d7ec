package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Conditional-write helpers for the optimistic concurrency contract. Two
// encodings are in use across services: a monotonic integer version and an
// opaque concurrency token, both carried in If-Match and echoed back via
// ETag on success.

// ExpectedVersion parses an integer version from If-Match. The second
// return reports whether a precondition was supplied at all.
func ExpectedVersion(r *http.Request) (int64, bool, error) {
	raw := etagValue(r)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, true, fmt.Errorf("invalid If-Match version %q", raw)
	}
	return v, true, nil
}

// ExpectedToken reads an opaque concurrency token from If-Match.
func ExpectedToken(r *http.Request) (string, bool) {
	raw := etagValue(r)
	return raw, raw != ""
}

func etagValue(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	raw = strings.TrimPrefix(raw, "W/")
	return strings.Trim(raw, `"`)
}

// SetVersionETag advertises the committed version so the caller can chain
// further conditional writes.
func SetVersionETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", `"`+strconv.FormatInt(version, 10)+`"`)
}

func SetTokenETag(w http.ResponseWriter, token string) {
	w.Header().Set("ETag", `"`+token+`"`)
}

// WriteVersionConflict reports a lost conditional write. The caller is
// expected to reload current state and retry the business operation.
func WriteVersionConflict(w http.ResponseWriter, currentVersion int64) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":           "version conflict",
		"current_version": currentVersion,
	})
}

func WriteTokenConflict(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": "concurrency token conflict",
	})
}
