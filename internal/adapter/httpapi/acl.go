package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"graphpool/internal/shared"
)

// ACL admits requests carrying one of the configured bearer tokens.
// An empty ACL admits everything.
type ACL struct {
	tokens [][]byte
}

// NewACL creates an ACL for tokens. Blank entries are ignored.
func NewACL(tokens []string) *ACL {
	a := &ACL{}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// Enabled reports whether any token is configured.
func (a *ACL) Enabled() bool { return a != nil && len(a.tokens) > 0 }

// IsAllowed reports whether token matches a configured one.
func (a *ACL) IsAllowed(token string) bool {
	if !a.Enabled() {
		return true
	}
	allowed := false
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(t, []byte(token)) == 1 {
			allowed = true
		}
	}
	return allowed
}

// Middleware rejects requests without an allowed bearer token. Paths in
// open bypass the check.
func (a *ACL) Middleware(open ...string) gin.HandlerFunc {
	public := make(map[string]struct{}, len(open))
	for _, p := range open {
		public[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}
		if _, ok := public[c.FullPath()]; ok {
			c.Next()
			return
		}
		if a.IsAllowed(bearer(c.GetHeader("Authorization"))) {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", `Bearer realm="graphpool"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Error:   http.StatusText(http.StatusUnauthorized),
			Kind:    shared.KindValidation.String(),
			Message: "missing or unknown bearer token",
			Code:    http.StatusUnauthorized,
		})
	}
}

func bearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
