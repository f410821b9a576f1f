package httpapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codex-d/runner/internal/apierr"
)

// authMiddleware enforces the bearer-token check on every /v1 route,
// including health: when auth is required, health is not exempt, so
// client discovery can tell "reachable, wrong token" (401) apart from
// "nothing listening" (connection refused).
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.requireAuth {
			c.Next()
			return
		}

		scheme, token, ok := parseBearer(c.GetHeader("Authorization"))
		if !ok || !strings.EqualFold(scheme, "Bearer") || !tokensEqual(token, s.identity.Token) {
			apierr.Respond(c, apierr.Unauthorized("missing or invalid bearer token"))
			return
		}
		c.Next()
	}
}

// parseBearer splits an "Authorization" header into its scheme and token,
// trimming surrounding whitespace from the token per the exact-after-trim
// comparison rule.
func parseBearer(header string) (scheme, token string, ok bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], strings.TrimSpace(parts[1]), true
}

// tokensEqual compares two tokens in constant time, regardless of their
// byte length, so that timing cannot leak a token-length oracle.
func tokensEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
