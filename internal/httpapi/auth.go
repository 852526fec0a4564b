package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/attestary/attestary/internal/identity"
)

// Context key for values injected by the auth guard.
const ctxTokenClaims = "attestary_token_claims"

// Scopes understood by the records API.
const (
	ScopeRecordsRead  = "records:read"
	ScopeRecordsWrite = "records:write"
)

// AuthGuard authenticates requests to the records API. Two credential
// forms are accepted: a bearer JWT minted by the archive's token
// issuer, checked for the route's scope, or a pre-shared API key in
// X-API-Key compared against a bcrypt hash. API keys carry every scope;
// they exist for attestation components that cannot fetch tokens.
type AuthGuard struct {
	tokens     *identity.TokenIssuer // nil = bearer auth disabled
	apiKeyHash []byte                // empty = API-key auth disabled
	logger     *zap.Logger
}

// NewAuthGuard creates an AuthGuard verifying bearer tokens against the
// given issuer. Pass a nil issuer to accept API keys only.
func NewAuthGuard(tokens *identity.TokenIssuer, logger *zap.Logger) *AuthGuard {
	return &AuthGuard{tokens: tokens, logger: logger}
}

// SetAPIKeyHash installs the bcrypt hash presented API keys are
// compared against.
func (g *AuthGuard) SetAPIKeyHash(hash string) {
	g.apiKeyHash = []byte(hash)
}

// Require returns a middleware that rejects requests lacking a valid
// credential with the given scope.
func (g *AuthGuard) Require(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-Key"); key != "" {
			if len(g.apiKeyHash) == 0 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key auth not enabled"})
				return
			}
			if err := bcrypt.CompareHashAndPassword(g.apiKeyHash, []byte(key)); err != nil {
				g.logger.Warn("rejected API key", zap.String("client_ip", c.ClientIP()))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
				return
			}
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer token or API key required"})
			return
		}
		if g.tokens == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer auth not enabled"})
			return
		}

		claims, err := g.tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token: " + err.Error()})
			return
		}
		if !identity.HasScope(claims, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token missing scope " + scope})
			return
		}

		c.Set(ctxTokenClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the verified token claims injected by
// Require. Returns nil when the request authenticated with an API key
// or when no guard ran.
func ClaimsFromCtx(c *gin.Context) *identity.APITokenClaims {
	v, ok := c.Get(ctxTokenClaims)
	if !ok {
		return nil
	}
	claims, ok := v.(*identity.APITokenClaims)
	if !ok {
		return nil
	}
	return claims
}
