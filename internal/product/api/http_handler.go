package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ridloal/product-catalog-service/internal/platform/database"
	"github.com/ridloal/product-catalog-service/internal/product/domain"
	"github.com/ridloal/product-catalog-service/internal/product/repository"
	"github.com/ridloal/product-catalog-service/internal/product/service"
)

const (
	msgNotFound     = "Product not found"
	msgDBConnection = "DB connection failed"
)

type ProductHandler struct {
	productService service.ProductService
	log            *zap.Logger
}

func NewProductHandler(ps service.ProductService, log *zap.Logger) *ProductHandler {
	return &ProductHandler{productService: ps, log: log}
}

// RegisterRoutes mounts the product routes. Mutating routes run behind guard.
func (h *ProductHandler) RegisterRoutes(router gin.IRouter, guard gin.HandlerFunc) {
	router.GET("/", h.Home)

	productRoutes := router.Group("/products")
	{
		productRoutes.GET("", h.ListProducts)
		productRoutes.GET("/:id", h.GetProduct)
		productRoutes.POST("", guard, h.CreateProduct)
		productRoutes.PUT("/:id", guard, h.UpdateProduct)
		productRoutes.DELETE("/:id", guard, h.DeleteProduct)
	}
}

func (h *ProductHandler) Home(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Welcome to Product API"})
}

func (h *ProductHandler) ListProducts(c *gin.Context) {
	products, err := h.productService.ListProducts(c.Request.Context())
	if err != nil {
		h.respondError(c, "ListProducts", err, "Failed to retrieve products")
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *ProductHandler) GetProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	product, err := h.productService.GetProductDetails(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "GetProduct", err, "Failed to retrieve product")
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req domain.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	id, err := h.productService.CreateProduct(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "CreateProduct", err, "Failed to create product")
		return
	}
	c.JSON(http.StatusCreated, domain.MutationResponse{Message: "Product added!", ID: id})
}

func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	var req domain.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.productService.UpdateProduct(c.Request.Context(), id, req); err != nil {
		h.respondError(c, "UpdateProduct", err, "Failed to update product")
		return
	}
	c.JSON(http.StatusOK, domain.MutationResponse{Message: "Product updated!", ID: id})
}

func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	if err := h.productService.DeleteProduct(c.Request.Context(), id); err != nil {
		h.respondError(c, "DeleteProduct", err, "Failed to delete product")
		return
	}
	c.JSON(http.StatusOK, domain.MutationResponse{Message: "Product deleted!", ID: id})
}

// productID only accepts positive integers; anything else cannot name a row.
func productID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": msgNotFound})
		return 0, false
	}
	return id, true
}

func (h *ProductHandler) respondError(c *gin.Context, op string, err error, fallback string) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.Is(err, repository.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": msgNotFound})
	case errors.Is(err, database.ErrPoolExhausted),
		errors.Is(err, database.ErrConnection),
		errors.Is(err, database.ErrPoolClosed):
		h.log.Error(op+": database unavailable", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgDBConnection})
	default:
		h.log.Error(op+": service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
