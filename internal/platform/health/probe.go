package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether a working database session can be obtained.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Probe struct {
	db      Pinger
	log     *zap.Logger
	timeout time.Duration
}

func NewProbe(db Pinger, timeout time.Duration, log *zap.Logger) *Probe {
	return &Probe{db: db, log: log, timeout: timeout}
}

func (p *Probe) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", p.Liveness)
	router.GET("/ready", p.Readiness)
}

func (p *Probe) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Readiness borrows and returns one pooled session; nothing is written.
func (p *Probe) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), p.timeout)
	defer cancel()

	if err := p.db.Ping(ctx); err != nil {
		p.log.Warn("readiness_failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
