package core

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"floodguard/internal/config"
	"floodguard/internal/types"
)

func adminServer(t *testing.T, key string) *Server {
	t.Helper()
	srv := newTestServer(t)
	if key != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
		require.NoError(t, err)
		srv.Config.Security.AdminKeyHash = config.SecretString(hash)
	}
	return srv
}

func serveAdmin(srv *Server, key string) (*httptest.ResponseRecorder, bool) {
	reached := false
	h := srv.RequireAdminKey(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPut, "/v1/locations/river-1/policy", nil)
	if key != "" {
		req.Header.Set(AdminKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, reached
}

func TestRequireAdminKey_Valid(t *testing.T) {
	rec, reached := serveAdmin(adminServer(t, "correct horse"), "correct horse")

	assert.True(t, reached)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireAdminKey_Rejections(t *testing.T) {
	cases := map[string]struct {
		configured string
		presented  string
		code       types.ErrorCode
	}{
		"missing header": {"correct horse", "", types.ErrCodeAuthAdminKeyMissing},
		"wrong key":      {"correct horse", "battery staple", types.ErrCodeAuthAdminKeyInvalid},
		"admin disabled": {"", "anything", types.ErrCodeAuthAdminKeyInvalid},
		"case sensitive": {"correct horse", "Correct Horse", types.ErrCodeAuthAdminKeyInvalid},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec, reached := serveAdmin(adminServer(t, tc.configured), tc.presented)

			assert.False(t, reached)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, string(tc.code), decodeError(t, rec).Code)
		})
	}
}

func TestRequireAdminKey_MalformedHash(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.Security.AdminKeyHash = "not-a-bcrypt-hash"

	rec, reached := serveAdmin(srv, "anything")

	assert.False(t, reached)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
