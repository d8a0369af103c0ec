package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-booking/internal/authz"
	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository/repotest"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func token(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func claimsFor(sub string, exp time.Time) *Claims {
	return &Claims{
		Email: "pat@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "https://auth.example",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func newAuth(profiles ...*model.Profile) *AuthMiddleware {
	return NewAuthMiddleware(AuthConfig{
		Secret:   testSecret,
		Issuer:   "https://auth.example",
		Audience: "authenticated",
	}, authz.NewPolicy(repotest.NewProfiles(profiles...), time.Minute))
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	sub := uuid.New()
	auth := newAuth()
	r := gin.New()
	r.GET("/me", auth.Authenticate(), func(c *gin.Context) {
		id, _ := Subject(c)
		c.JSON(http.StatusOK, gin.H{"subject": id.String(), "email": c.GetString(ContextEmail)})
	})

	future := time.Now().Add(time.Hour)
	wrongAudience := claimsFor(sub.String(), future)
	wrongAudience.Audience = jwt.ClaimStrings{"other"}
	noExpiry := claimsFor(sub.String(), future)
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token(t, jwt.SigningMethodHS256, []byte(testSecret), claimsFor(sub.String(), future)), http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"expired", "Bearer " + token(t, jwt.SigningMethodHS256, []byte(testSecret), claimsFor(sub.String(), time.Now().Add(-time.Minute))), http.StatusUnauthorized},
		{"wrong secret", "Bearer " + token(t, jwt.SigningMethodHS256, []byte("nope"), claimsFor(sub.String(), future)), http.StatusUnauthorized},
		{"wrong algorithm", "Bearer " + token(t, jwt.SigningMethodHS512, []byte(testSecret), claimsFor(sub.String(), future)), http.StatusUnauthorized},
		{"wrong audience", "Bearer " + token(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAudience), http.StatusUnauthorized},
		{"no expiry", "Bearer " + token(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry), http.StatusUnauthorized},
		{"subject not a uuid", "Bearer " + token(t, jwt.SigningMethodHS256, []byte(testSecret), claimsFor("user-1", future)), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(r, req)
			assert.Equal(t, tt.status, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tt.status == http.StatusOK {
				assert.Equal(t, sub.String(), body["subject"])
				assert.Equal(t, "pat@example.com", body["email"])
			} else {
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestRequire(t *testing.T) {
	patient := &model.Profile{Base: model.Base{ID: uuid.New()}, Role: model.RolePatient}
	admin := &model.Profile{Base: model.Base{ID: uuid.New()}, Role: model.RoleAdmin}
	auth := newAuth(patient, admin)

	r := gin.New()
	r.POST("/services", auth.Authenticate(), auth.Require(authz.ActionManageServices), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"role": Profile(c).Role})
	})

	call := func(sub uuid.UUID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/services", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, jwt.SigningMethodHS256, []byte(testSecret), claimsFor(sub.String(), time.Now().Add(time.Hour))))
		return serve(r, req)
	}

	assert.Equal(t, http.StatusOK, call(admin.ID).Code)
	assert.Equal(t, http.StatusForbidden, call(patient.ID).Code)
	// A valid token without a profile row is not a caller yet.
	assert.Equal(t, http.StatusUnauthorized, call(uuid.New()).Code)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.0001, Burst: 2})
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	r := gin.New()
	r.Use(rl.RateLimit())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := serve(r, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig([]string{"https://clinic.example"})))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://clinic.example")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://clinic.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(SizeLimit(16))
	r.POST("/x", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRecoveryAndRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(HeaderXRequestID, "req-123")
	w := serve(r, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(HeaderXRequestID))
	assert.JSONEq(t, `{"error":"Internal server error","request_id":"req-123"}`, w.Body.String())
}
