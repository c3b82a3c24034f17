package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/ridloal/product-catalog-service/internal/product/domain"
	"github.com/ridloal/product-catalog-service/internal/product/repository"
)

type ProductService interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductDetails(ctx context.Context, productID int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, req domain.CreateProductRequest) (int64, error)
	UpdateProduct(ctx context.Context, productID int64, req domain.UpdateProductRequest) error
	DeleteProduct(ctx context.Context, productID int64) error
}

type productServiceImpl struct {
	repo repository.ProductRepository
	log  *zap.Logger
}

func NewProductService(repo repository.ProductRepository, log *zap.Logger) ProductService {
	return &productServiceImpl{
		repo: repo,
		log:  log,
	}
}

func (s *productServiceImpl) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *productServiceImpl) GetProductDetails(ctx context.Context, productID int64) (*domain.Product, error) {
	if productID <= 0 {
		return nil, repository.ErrProductNotFound
	}
	return s.repo.GetProductByID(ctx, productID)
}

// CreateProduct validates before touching the repository, so bad input never
// takes a pooled connection.
func (s *productServiceImpl) CreateProduct(ctx context.Context, req domain.CreateProductRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	id, err := s.repo.CreateProduct(ctx, req)
	if err != nil {
		return 0, err
	}
	s.log.Info("product_created", zap.Int64("id", id))
	return id, nil
}

func (s *productServiceImpl) UpdateProduct(ctx context.Context, productID int64, req domain.UpdateProductRequest) error {
	if productID <= 0 {
		return repository.ErrProductNotFound
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if err := s.repo.UpdateProduct(ctx, productID, req); err != nil {
		return err
	}
	s.log.Info("product_updated", zap.Int64("id", productID))
	return nil
}

func (s *productServiceImpl) DeleteProduct(ctx context.Context, productID int64) error {
	if productID <= 0 {
		return repository.ErrProductNotFound
	}
	if err := s.repo.DeleteProduct(ctx, productID); err != nil {
		return err
	}
	s.log.Info("product_deleted", zap.Int64("id", productID))
	return nil
}
