package stripesync

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuxxociety/wizarr/internal/auth"
)

func TestJWTAuth_TokenRoundTrip(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	token, err := jwtAuth.GenerateToken("ops@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := jwtAuth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
}

func TestJWTAuth_RejectsWrongSecret(t *testing.T) {
	token, err := NewJWTAuth("secret-a").GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTAuth("secret-b").ValidateToken(token)
	require.Error(t, err)
}

func TestJWTAuth_RejectsExpiredToken(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	token, err := jwtAuth.GenerateToken("ops", -time.Minute)
	require.NoError(t, err)

	_, err = jwtAuth.ValidateToken(token)
	require.Error(t, err)
}

func TestJWTAuth_GetSubject(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	token, err := jwtAuth.GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/sync/backfill", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	subject, err := jwtAuth.GetSubject(r)
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)

	r = httptest.NewRequest(http.MethodPost, "/sync/backfill", nil)
	_, err = jwtAuth.GetSubject(r)
	require.Error(t, err, "missing header is rejected")

	r = httptest.NewRequest(http.MethodPost, "/sync/backfill", nil)
	r.Header.Set("Authorization", token)
	_, err = jwtAuth.GetSubject(r)
	require.Error(t, err, "non-bearer header is rejected")
}

func TestJWTAuth_Middleware(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	token, err := jwtAuth.GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	var gotSubject string
	handler := jwtAuth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = auth.GetAdminSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodPost, "/sync/backfill", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", gotSubject)

	r = httptest.NewRequest(http.MethodPost, "/sync/backfill", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
