package core

import (
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"floodguard/internal/types"
)

// AdminKeyHeader carries the admin key for policy import and simulation.
const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey guards mutating policy routes. The presented key is
// compared against the bcrypt hash in Security.AdminKeyHash. With no hash
// configured every request is refused, so the routes are closed by default.
func (s *Server) RequireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.checkAdminKey(r); err != nil {
			types.LoggerFromContext(r.Context()).Warn("admin key rejected",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"error", err,
			)
			Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkAdminKey(r *http.Request) error {
	key := r.Header.Get(AdminKeyHeader)
	if key == "" {
		return types.NewAppError(types.ErrCodeAuthAdminKeyMissing, "admin key is required", nil)
	}

	var hash string
	if s.Config != nil {
		hash = s.Config.Security.AdminKeyHash.Unmask()
	}
	if hash == "" {
		return types.NewAppError(types.ErrCodeAuthAdminKeyInvalid, "admin access is disabled", nil)
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return types.NewAppError(types.ErrCodeAuthAdminKeyInvalid, "admin key is invalid", nil)
	default:
		// A malformed configured hash; the caller still only sees invalid.
		return types.NewAppError(types.ErrCodeAuthAdminKeyInvalid, "admin key is invalid", err)
	}
}
