package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/timeline/internal/owner"
)

// OwnerHeader is set by the fronting gateway once it has authenticated the
// caller.
const OwnerHeader = "X-Owner-ID"

const maxOwnerIDLen = 128

// RequireOwner reads the owner id from OwnerHeader into the request
// context. Requests without one are rejected with 401.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if id == "" || len(id) > maxOwnerIDLen {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid "+OwnerHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(owner.WithOwner(r.Context(), id)))
	})
}

// OwnerKey keys rate limits by owner, falling back to the client IP.
func OwnerKey(r *http.Request) string {
	if id, ok := owner.FromContext(r.Context()); ok {
		return "owner:" + id
	}
	return "ip:" + RealIP(r)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
