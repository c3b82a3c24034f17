package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	ConsecutiveFailures uint32        // failures in a row before the breaker opens
	OpenTimeout         time.Duration // time spent open before a half-open probe
	HalfOpenRequests    uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 3,
		OpenTimeout:         5 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerDialer fails dials fast while the database is known to be unreachable.
// Once OpenTimeout elapses a single probe dial is let through; its success closes
// the breaker again.
type BreakerDialer struct {
	inner Dialer
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerDialer(inner Dialer, cfg BreakerConfig, log *zap.Logger) *BreakerDialer {
	settings := gobreaker.Settings{
		Name:        "postgres-dial",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("db_breaker_state_change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerDialer{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerDialer) Dial(ctx context.Context) (Conn, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Dial(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("database dial rejected (circuit %s): %w", b.cb.State(), err)
		}
		return nil, err
	}
	return res.(Conn), nil
}

// State reports the breaker state ("closed", "open", "half-open").
func (b *BreakerDialer) State() string {
	return b.cb.State().String()
}
