package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/authz"
	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/pkg/errors"
	"github.com/jwalitptl/clinic-booking/pkg/httputil"
)

const (
	ContextSubject = "subject"
	ContextEmail   = "email"
	ContextProfile = "profile"
)

// Claims are the auth provider's access token claims. The subject is the
// profile id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type AuthMiddleware struct {
	secret []byte
	parser *jwt.Parser
	policy *authz.Policy
}

func NewAuthMiddleware(cfg AuthConfig, policy *authz.Policy) *AuthMiddleware {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &AuthMiddleware{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
		policy: policy,
	}
}

// Authenticate verifies the bearer token and sets the subject in context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.authenticate(c) {
			return
		}
		c.Next()
	}
}

// authenticate sets the subject from a valid bearer token, or aborts with
// 401 and returns false.
func (m *AuthMiddleware) authenticate(c *gin.Context) bool {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		httputil.RespondWithError(c, errors.Unauthorized("missing authorization header", nil))
		return false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		httputil.RespondWithError(c, errors.Unauthorized("invalid authorization format", nil))
		return false
	}

	claims, err := m.parse(parts[1])
	if err != nil {
		httputil.RespondWithError(c, errors.Unauthorized("invalid token", err))
		return false
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		httputil.RespondWithError(c, errors.Unauthorized("invalid token subject", err))
		return false
	}

	c.Set(ContextSubject, subject)
	c.Set(ContextEmail, claims.Email)
	return true
}

func (m *AuthMiddleware) parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Require resolves the caller's profile and checks it may perform action.
// Must run after Authenticate.
func (m *AuthMiddleware) Require(action authz.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := Subject(c)
		if !ok {
			httputil.RespondWithError(c, errors.Unauthorized("", nil))
			return
		}

		profile, err := m.policy.Authorize(c.Request.Context(), subject, action)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}

		c.Set(ContextProfile, profile)
		c.Next()
	}
}

// Subject returns the authenticated token subject.
func Subject(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextSubject)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// Profile returns the caller profile set by Require.
func Profile(c *gin.Context) *model.Profile {
	v, ok := c.Get(ContextProfile)
	if !ok {
		return nil
	}
	p, _ := v.(*model.Profile)
	return p
}

// Identify authenticates and loads the caller when a bearer token is
// present and lets anonymous requests through. Public routes use it to
// widen results for admins.
func (m *AuthMiddleware) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		if !m.authenticate(c) {
			return
		}
		subject, _ := Subject(c)
		profile, err := m.policy.Profile(c.Request.Context(), subject)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		c.Set(ContextProfile, profile)
		c.Next()
	}
}
