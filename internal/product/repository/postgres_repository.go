package repository

import (
	"context"
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ridloal/product-catalog-service/internal/platform/database"
	"github.com/ridloal/product-catalog-service/internal/product/domain"
)

var ErrProductNotFound = errors.New("product not found")

const productTable = "product"

var (
	psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	productColumns = []string{
		"id", "name", "description", "price", "COALESCE(quantity, 0)", "created_at", "updated_at",
	}
)

// Pooler is the slice of *database.Pool the repository needs.
type Pooler interface {
	WithConn(ctx context.Context, fn func(ctx context.Context, conn database.Conn) error) error
}

type ProductRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, req domain.CreateProductRequest) (int64, error)
	UpdateProduct(ctx context.Context, id int64, req domain.UpdateProductRequest) error
	DeleteProduct(ctx context.Context, id int64) error
}

type postgresProductRepository struct {
	pool Pooler
	log  *zap.Logger
}

func NewPostgresProductRepository(pool Pooler, log *zap.Logger) ProductRepository {
	return &postgresProductRepository{pool: pool, log: log}
}

func scanProduct(row pgx.Row, p *domain.Product) error {
	return row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt)
}

func (r *postgresProductRepository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	query, args, err := psql.Select(productColumns...).From(productTable).ToSql()
	if err != nil {
		return nil, err
	}

	products := []domain.Product{}
	err = r.pool.WithConn(ctx, func(ctx context.Context, conn database.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var p domain.Product
			if err := scanProduct(rows, &p); err != nil {
				return err
			}
			products = append(products, p)
		}
		return rows.Err()
	})
	if err != nil {
		r.log.Error("ListProducts: query failed", zap.Error(err))
		return nil, err
	}
	return products, nil
}

func (r *postgresProductRepository) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	query, args, err := psql.Select(productColumns...).From(productTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	var p domain.Product
	found := true
	err = r.pool.WithConn(ctx, func(ctx context.Context, conn database.Conn) error {
		err := scanProduct(conn.QueryRow(ctx, query, args...), &p)
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		r.log.Error("GetProductByID: query failed", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	if !found {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (r *postgresProductRepository) CreateProduct(ctx context.Context, req domain.CreateProductRequest) (int64, error) {
	quantity := 0
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	query, args, err := psql.Insert(productTable).
		Columns("name", "description", "price", "quantity").
		Values(req.Name, req.Description, req.Price.String(), quantity).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.pool.WithConn(ctx, func(ctx context.Context, conn database.Conn) error {
		return conn.QueryRow(ctx, query, args...).Scan(&id)
	})
	if err != nil {
		r.log.Error("CreateProduct: insert failed", zap.Error(err))
		return 0, err
	}
	return id, nil
}

// UpdateProduct reads the row first and then overwrites it on the same
// session, without a transaction. A delete landing between the two statements
// makes the update match nothing, which is reported as ErrProductNotFound.
func (r *postgresProductRepository) UpdateProduct(ctx context.Context, id int64, req domain.UpdateProductRequest) error {
	existsQuery, existsArgs, err := psql.Select("COALESCE(quantity, 0)").From(productTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}

	found := true
	err = r.pool.WithConn(ctx, func(ctx context.Context, conn database.Conn) error {
		var current int
		err := conn.QueryRow(ctx, existsQuery, existsArgs...).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}

		quantity := current
		if req.Quantity != nil {
			quantity = *req.Quantity
		}

		query, args, err := psql.Update(productTable).
			Set("name", req.Name).
			Set("description", req.Description).
			Set("price", req.Price.String()).
			Set("quantity", quantity).
			Set("updated_at", squirrel.Expr("NOW()")).
			Where(squirrel.Eq{"id": id}).
			ToSql()
		if err != nil {
			return err
		}

		tag, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			r.log.Warn("UpdateProduct: row vanished between check and update", zap.Int64("id", id))
			found = false
		}
		return nil
	})
	if err != nil {
		r.log.Error("UpdateProduct: exec failed", zap.Int64("id", id), zap.Error(err))
		return err
	}
	if !found {
		return ErrProductNotFound
	}
	return nil
}

// DeleteProduct trusts the affected row count; there is no separate existence probe.
func (r *postgresProductRepository) DeleteProduct(ctx context.Context, id int64) error {
	query, args, err := psql.Delete(productTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}

	var affected int64
	err = r.pool.WithConn(ctx, func(ctx context.Context, conn database.Conn) error {
		tag, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		r.log.Error("DeleteProduct: exec failed", zap.Int64("id", id), zap.Error(err))
		return err
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}
