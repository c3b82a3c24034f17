package repository

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ridloal/product-catalog-service/internal/platform/database"
)

// schemaLockKey serialises schema creation and seeding across replicas.
// It is a transaction-level lock, so each batch takes it again.
const schemaLockKey = 72616469

// Runs as one simple-protocol batch, which Postgres executes as a single
// implicit transaction.
var schemaDDL = fmt.Sprintf(`
SELECT pg_advisory_xact_lock(%d);

CREATE TABLE IF NOT EXISTS product (
    id SERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    price NUMERIC(10,2) NOT NULL,
    quantity INT DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
);

CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS set_updated_at ON product;

CREATE TRIGGER set_updated_at
BEFORE UPDATE ON product
FOR EACH ROW
EXECUTE FUNCTION update_updated_at_column();
`, schemaLockKey)

type seedRow struct {
	name        string
	description string
	price       string
	quantity    int
}

var seedRows = []seedRow{
	{"Laptop", "14-inch ultrabook", "1299.00", 10},
	{"Mechanical Keyboard", "Hot-swappable switches", "89.90", 25},
	{"USB-C Hub", "7-in-1 adapter", "34.50", 40},
}

// seedStatement takes the bootstrap lock and inserts the sample rows only if
// the table is still empty. Both statements run in one implicit transaction,
// so the emptiness check and the insert happen under the same lock.
func seedStatement() (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT pg_advisory_xact_lock(%d);\n", schemaLockKey)
	b.WriteString("INSERT INTO product (name, description, price, quantity)\n")
	b.WriteString("SELECT v.name, v.description, v.price, v.quantity FROM (VALUES ")

	args := make([]any, 0, len(seedRows)*4)
	for i, s := range seedRows {
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d::varchar, $%d::text, $%d::numeric, $%d::int)", n+1, n+2, n+3, n+4)
		args = append(args, s.name, s.description, s.price, s.quantity)
	}
	b.WriteString(") AS v(name, description, price, quantity)\n")
	b.WriteString("WHERE NOT EXISTS (SELECT 1 FROM product);")
	return b.String(), args
}

type SchemaBootstrap struct {
	pool Pooler
	log  *zap.Logger
	seed bool
}

func NewSchemaBootstrap(pool Pooler, log *zap.Logger, seed bool) *SchemaBootstrap {
	return &SchemaBootstrap{pool: pool, log: log, seed: seed}
}

// Run ensures the product table exists and, when seeding is enabled and the
// table is empty, inserts sample rows. Safe to run any number of times.
func (b *SchemaBootstrap) Run(ctx context.Context) error {
	err := b.pool.WithConn(ctx, func(ctx context.Context, conn database.Conn) error {
		if _, err := conn.Exec(ctx, schemaDDL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if b.seed {
			return b.seedIfEmpty(ctx, conn)
		}
		return nil
	})
	if err != nil {
		b.log.Error("table_creation_error", zap.Error(err))
		return err
	}
	b.log.Info("schema_ready", zap.Bool("seed", b.seed))
	return nil
}

func (b *SchemaBootstrap) seedIfEmpty(ctx context.Context, conn database.Conn) error {
	query, args := seedStatement()
	// Simple protocol: pgx interpolates the arguments client-side, which is
	// what allows several statements in one round trip.
	tag, err := conn.Exec(ctx, query, append([]any{pgx.QueryExecModeSimpleProtocol}, args...)...)
	if err != nil {
		return fmt.Errorf("seed products: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		b.log.Info("table_seeded", zap.Int64("rows", n))
	}
	return nil
}

// RunWithRetry keeps calling Run with exponential backoff (capped at maxDelay)
// until it succeeds or ctx is done.
func (b *SchemaBootstrap) RunWithRetry(ctx context.Context, baseDelay, maxDelay time.Duration) error {
	for attempt := 0; ; attempt++ {
		err := b.Run(ctx)
		if err == nil {
			return nil
		}

		delay := exponential(baseDelay, attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		b.log.Warn("schema_bootstrap_retry", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("schema bootstrap abandoned: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	mult := int64(1) << attempt
	if int64(base) > math.MaxInt64/mult {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(mult)
}
