package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smartdigilab/backend/internal/models"
	"github.com/smartdigilab/backend/internal/services"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, userID int64, role string) string {
	t.Helper()
	viper.Set("jwt.secret_key", "middleware-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, services.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("middleware-secret"))
	require.NoError(t, err)
	return signed
}

// echoPrincipal answers with the role it found in the context
var echoPrincipal = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	principal, ok := services.PrincipalFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.Write([]byte(principal.Role))
})

func TestAuthMiddleware(t *testing.T) {
	InitAuthMiddleware(nil)
	handler := AuthMiddleware(echoPrincipal)

	t.Run("bearer token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, 2, models.RoleUser))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.RoleUser, w.Body.String())
	})

	t.Run("cookie token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(&http.Cookie{Name: services.TokenCookieName, Value: signToken(t, 1, models.RoleAdmin)})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		assert.Equal(t, models.RoleAdmin, w.Body.String())
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong signature", func(t *testing.T) {
		token := signToken(t, 2, models.RoleUser)
		viper.Set("jwt.secret_key", "rotated")

		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthMiddleware_Blacklist(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	InitAuthMiddleware(redisClient)
	defer InitAuthMiddleware(nil)

	handler := AuthMiddleware(echoPrincipal)
	token := signToken(t, 2, models.RoleUser)

	redisMock.ExpectExists(services.BlacklistKey(token)).SetVal(1)
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	redisMock.ExpectExists(services.BlacklistKey(token)).SetVal(0)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(models.RoleAdmin)(echoPrincipal)

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r.WithContext(services.WithPrincipal(r.Context(), models.Principal{UserID: 2, Role: models.RoleUser})))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r.WithContext(services.WithPrincipal(r.Context(), models.Principal{UserID: 1, Role: models.RoleAdmin})))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(echoPrincipal).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
