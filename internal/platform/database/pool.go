package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ridloal/product-catalog-service/internal/platform/config"
)

var (
	ErrPoolExhausted = errors.New("connection pool exhausted")
	ErrPoolClosed    = errors.New("connection pool closed")
	ErrConnection    = errors.New("database connection unavailable")
)

const (
	defaultValidateAfter  = time.Second
	defaultAcquireTimeout = 3 * time.Second
	closeTimeout          = 2 * time.Second
)

type Options struct {
	MinSize        int
	MaxSize        int
	AcquireTimeout time.Duration
	// MaxIdleTime retires idle sessions older than this. Zero disables it.
	MaxIdleTime time.Duration
	// ValidateAfter pings idle sessions that sat unused at least this long
	// before lending them out. Zero validates on every checkout.
	ValidateAfter time.Duration
}

func OptionsFromConfig(cfg config.PoolConfig) Options {
	cfg = cfg.Normalize()
	return Options{
		MinSize:        cfg.MinSize,
		MaxSize:        cfg.MaxSize,
		AcquireTimeout: cfg.AcquireTimeout,
		MaxIdleTime:    cfg.MaxIdleTime,
		ValidateAfter:  defaultValidateAfter,
	}
}

type idleConn struct {
	conn  Conn
	since time.Time
}

// Pool lends a bounded number of database sessions. A session is owned either
// by the idle list or by exactly one Handle, never both.
type Pool struct {
	dialer Dialer
	log    *zap.Logger
	opts   Options

	// One token per checked-out session; capacity is MaxSize.
	tokens chan struct{}

	mu     sync.Mutex
	idle   []idleConn
	total  int
	closed bool

	acquired  atomic.Int64
	failures  atomic.Int64
	discarded atomic.Int64
	dialed    atomic.Int64

	now func() time.Time
}

type Stats struct {
	Acquired        int64 `json:"acquired"`
	AcquireFailures int64 `json:"acquire_failures"`
	Discarded       int64 `json:"discarded"`
	Dialed          int64 `json:"dialed"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	Total           int   `json:"total"`
	MaxSize         int   `json:"max_size"`
}

func NewPool(dialer Dialer, opts Options, log *zap.Logger) *Pool {
	if opts.MaxSize < 1 {
		opts.MaxSize = 1
	}
	if opts.MinSize > opts.MaxSize {
		opts.MinSize = opts.MaxSize
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		dialer: dialer,
		log:    log.Named("pool"),
		opts:   opts,
		tokens: make(chan struct{}, opts.MaxSize),
		now:    time.Now,
	}
}

// Acquire lends a session, waiting at most AcquireTimeout. Timing out yields
// ErrPoolExhausted; a failed dial or validation yields ErrConnection.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if p.isClosed() {
		p.failures.Add(1)
		return nil, ErrPoolClosed
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.AcquireTimeout)
	defer cancel()

	select {
	case p.tokens <- struct{}{}:
	case <-ctx.Done():
		p.failures.Add(1)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no connection available within %s", ErrPoolExhausted, p.opts.AcquireTimeout)
		}
		return nil, ctx.Err()
	}

	conn, err := p.checkout(ctx)
	if err != nil {
		<-p.tokens
		p.failures.Add(1)
		return nil, err
	}

	p.acquired.Add(1)
	return &Handle{pool: p, conn: conn}, nil
}

// WithConn runs fn on a pooled session and always releases it. A non-nil
// error from fn (or a panic) discards the session instead of returning it to
// the idle list. fn runs detached from ctx cancellation so a disconnecting
// caller cannot abort a statement half way.
func (p *Pool) WithConn(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	ok := false
	defer func() {
		if !ok {
			h.MarkBroken()
		}
		h.Release()
	}()

	err = fn(context.WithoutCancel(ctx), h.Conn())
	ok = err == nil
	return err
}

// Ping borrows a session and round-trips to the server.
func (p *Pool) Ping(ctx context.Context) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()

	ctx, cancel := context.WithTimeout(ctx, p.opts.AcquireTimeout)
	defer cancel()
	if err := h.Conn().Ping(ctx); err != nil {
		h.MarkBroken()
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return nil
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle, total := len(p.idle), p.total
	p.mu.Unlock()

	return Stats{
		Acquired:        p.acquired.Load(),
		AcquireFailures: p.failures.Load(),
		Discarded:       p.discarded.Load(),
		Dialed:          p.dialed.Load(),
		InUse:           len(p.tokens),
		Idle:            idle,
		Total:           total,
		MaxSize:         p.opts.MaxSize,
	}
}

// Warm opens sessions until MinSize exist. Failures are logged and left to
// the next maintenance run.
func (p *Pool) Warm(ctx context.Context) {
	for {
		p.mu.Lock()
		need := !p.closed && p.total < p.opts.MinSize
		p.mu.Unlock()
		if !need {
			return
		}

		select {
		case p.tokens <- struct{}{}:
		default:
			return
		}

		conn, err := p.dial(ctx)
		if err != nil {
			<-p.tokens
			p.log.Warn("db_pool_warm_failed", zap.Error(err))
			return
		}
		p.put(conn, false)
		<-p.tokens
	}
}

// Maintain retires idle sessions past MaxIdleTime (keeping MinSize) and then
// tops the pool back up to MinSize.
func (p *Pool) Maintain(ctx context.Context) {
	var stale []Conn

	p.mu.Lock()
	if p.opts.MaxIdleTime > 0 {
		now := p.now()
		kept := p.idle[:0]
		for _, ic := range p.idle {
			if now.Sub(ic.since) > p.opts.MaxIdleTime && p.total-len(stale) > p.opts.MinSize {
				stale = append(stale, ic.conn)
				continue
			}
			kept = append(kept, ic)
		}
		p.idle = kept
	}
	p.mu.Unlock()

	for _, c := range stale {
		p.retire(c, "idle_timeout")
	}

	p.Warm(ctx)

	st := p.Stats()
	p.log.Debug("db_pool_maintenance",
		zap.Int("idle", st.Idle),
		zap.Int("in_use", st.InUse),
		zap.Int("total", st.Total),
		zap.Int("retired", len(stale)),
	)
}

// ScheduleMaintenance registers Maintain on the given cron scheduler.
func (p *Pool) ScheduleMaintenance(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.AcquireTimeout)
		defer cancel()
		p.Maintain(ctx)
	})
}

// Close retires every idle session. Sessions still checked out are retired as
// they are released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, ic := range idle {
		p.retire(ic.conn, "pool_closed")
	}
	p.log.Info("db_pool_closed")
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// checkout must be called while holding a token.
func (p *Pool) checkout(ctx context.Context) (Conn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		n := len(p.idle)
		if n == 0 {
			p.mu.Unlock()
			break
		}
		ic := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		if reason := p.unusable(ctx, ic); reason != "" {
			p.retire(ic.conn, reason)
			continue
		}
		return ic.conn, nil
	}

	return p.dial(ctx)
}

func (p *Pool) unusable(ctx context.Context, ic idleConn) string {
	if ic.conn.IsClosed() {
		return "closed"
	}
	idleFor := p.now().Sub(ic.since)
	if p.opts.MaxIdleTime > 0 && idleFor > p.opts.MaxIdleTime {
		return "idle_timeout"
	}
	if idleFor >= p.opts.ValidateAfter {
		if err := ic.conn.Ping(ctx); err != nil {
			return "failed_validation"
		}
	}
	return ""
}

// dial must be called while holding a token, which keeps total <= MaxSize.
func (p *Pool) dial(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.total++
	p.mu.Unlock()

	conn, err := p.dialer.Dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.log.Error("db_connection_failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	p.dialed.Add(1)
	return conn, nil
}

func (p *Pool) put(conn Conn, broken bool) {
	if broken || conn.IsClosed() {
		p.retire(conn, "faulted")
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.retire(conn, "pool_closed")
		return
	}
	p.idle = append(p.idle, idleConn{conn: conn, since: p.now()})
	p.mu.Unlock()
}

func (p *Pool) retire(conn Conn, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		p.log.Debug("db_connection_close_error", zap.Error(err))
	}

	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	p.discarded.Add(1)
	p.log.Info("db_connection_retired", zap.String("reason", reason))
}

// Handle is a checked-out session. Release must be called exactly once;
// further calls are no-ops.
type Handle struct {
	pool   *Pool
	conn   Conn
	broken bool
	once   sync.Once
}

func (h *Handle) Conn() Conn { return h.conn }

// MarkBroken makes Release retire the session instead of reusing it.
func (h *Handle) MarkBroken() { h.broken = true }

func (h *Handle) Release() {
	h.once.Do(func() {
		h.pool.put(h.conn, h.broken)
		<-h.pool.tokens
	})
}
