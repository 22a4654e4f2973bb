package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	apperrors "user-management-api/backend/pkg/errors"
	"user-management-api/backend/pkg/logger"
	"user-management-api/backend/pkg/metrics"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// Rejection reasons reported in AuthResult
const (
	ReasonMissingToken = "Missing or invalid token."
	ReasonInvalidToken = "Invalid token."
)

// ErrEmptyToken is returned when no bearer secret is configured
var ErrEmptyToken = errors.New("auth token must not be empty")

// AuthResult is the outcome of checking a request's credential
type AuthResult struct {
	Authorized bool
	Reason     string
}

// TokenAuthenticator accepts requests carrying the configured bearer secret
type TokenAuthenticator struct {
	token   []byte
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewTokenAuthenticator creates an authenticator for token
func NewTokenAuthenticator(token string, log *logger.Logger, m *metrics.Metrics) (*TokenAuthenticator, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &TokenAuthenticator{
		token:   []byte(token),
		logger:  log,
		metrics: m,
	}, nil
}

// Authenticate checks the Authorization header. The "Bearer " prefix is
// case-sensitive; surrounding spaces of the token itself are ignored.
func (a *TokenAuthenticator) Authenticate(h http.Header) AuthResult {
	header := h.Get(authorizationHeader)
	if !strings.HasPrefix(header, bearerPrefix) {
		return AuthResult{Reason: ReasonMissingToken}
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if subtle.ConstantTimeCompare([]byte(token), a.token) != 1 {
		return AuthResult{Reason: ReasonInvalidToken}
	}
	return AuthResult{Authorized: true}
}

// Middleware returns the authentication stage
func (a *TokenAuthenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := a.Authenticate(c.Request.Header)
		if result.Authorized {
			c.Next()
			return
		}

		log := logger.FromContext(c)
		switch result.Reason {
		case ReasonInvalidToken:
			log.Warn("Invalid token received", "path", c.Request.URL.Path)
			a.metrics.AuthFailure("invalid")
			apperrors.Abort(c, apperrors.NewUnauthorizedError(apperrors.CodeUnauthorized, apperrors.MsgInvalidToken))
		default:
			log.Warn("Missing or malformed Authorization header", "path", c.Request.URL.Path)
			a.metrics.AuthFailure("missing")
			apperrors.Abort(c, apperrors.NewUnauthorizedError(apperrors.CodeUnauthorized, apperrors.MsgMissingToken))
		}
	}
}
