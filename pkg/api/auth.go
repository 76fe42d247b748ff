// Access control for the feed and producer routes.
//
// With gateway.api_key set, /api/events, /api/messages, /ws and /api/ws need
// the key. Producers send it as a header:
//
//	Authorization: Bearer <api_key>
//	X-API-Key: <api_key>
//
// Browsers cannot set headers on a websocket upgrade, so viewers pass it in
// the query string instead:
//
//	ws://host/ws?token=<api_key>
//
// Health, the dashboard page and unknown paths stay public; the last ones
// reach the static handler and get their 404.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sipeed/clawfeed/pkg/logger"
)

// keyGuard gates individual routes behind the static API key.
type keyGuard struct {
	key string
}

func newKeyGuard(key string) keyGuard {
	if key == "" {
		logger.WarnC("auth", "No gateway.api_key set, feed and ingestion routes are open")
	} else {
		logger.InfoC("auth", "Feed and ingestion routes require the API key")
	}
	return keyGuard{key: key}
}

// protect wraps next with the key check. An empty key leaves next untouched.
func (g keyGuard) protect(next http.HandlerFunc) http.HandlerFunc {
	if g.key == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.admits(r) {
			logger.DebugCF("auth", "Rejected request without valid key", map[string]interface{}{
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			})
			w.Header().Set("WWW-Authenticate", `Bearer realm="clawfeed"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "unauthorized: api key required",
			})
			return
		}
		next(w, r)
	}
}

// admits compares in constant time.
func (g keyGuard) admits(r *http.Request) bool {
	presented := presentedKey(r)
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(g.key)) == 1
}

// presentedKey returns the first key found in the Authorization header, the
// X-API-Key header or the token query parameter.
func presentedKey(r *http.Request) string {
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	return r.URL.Query().Get("token")
}
