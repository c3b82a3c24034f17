package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ridloal/product-catalog-service/internal/platform/config"
)

// CredentialHeaders are checked in order; the first non-empty one wins.
// Lookups go through http.Header.Get, so names match case-insensitively.
var CredentialHeaders = []string{"X-API-KEY", "Authorization"}

// Credential extracts the presented secret, if any.
func Credential(h http.Header) (string, bool) {
	for _, name := range CredentialHeaders {
		if v := h.Get(name); v != "" {
			return v, true
		}
	}
	return "", false
}

// Gate checks a single shared secret. It fails closed: with no secret
// configured every request is denied.
type Gate struct {
	secret []byte
	hash   []byte
	log    *zap.Logger
}

func NewGate(cfg config.AuthConfig, log *zap.Logger) *Gate {
	g := &Gate{log: log.Named("auth")}
	if cfg.APIKeyHash != "" {
		g.hash = []byte(cfg.APIKeyHash)
	} else if cfg.APIKey != "" {
		g.secret = []byte(cfg.APIKey)
	}
	return g
}

func (g *Gate) Configured() bool {
	return len(g.hash) > 0 || len(g.secret) > 0
}

// Authorize never logs the presented credential.
func (g *Gate) Authorize(h http.Header) bool {
	if !g.Configured() {
		g.log.Error("api_key_env_missing")
		return false
	}

	provided, ok := Credential(h)
	if ok && g.matches(provided) {
		return true
	}
	g.log.Warn("auth_failed", zap.Bool("credential_present", ok))
	return false
}

func (g *Gate) matches(provided string) bool {
	if len(g.hash) > 0 {
		return bcrypt.CompareHashAndPassword(g.hash, []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare(g.secret, []byte(provided)) == 1
}

// Middleware aborts with 401 before any handler runs.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Authorize(c.Request.Header) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
