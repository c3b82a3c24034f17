package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ridloal/product-catalog-service/internal/platform/auth"
	"github.com/ridloal/product-catalog-service/internal/platform/config"
	"github.com/ridloal/product-catalog-service/internal/platform/database"
	"github.com/ridloal/product-catalog-service/internal/product/domain"
	"github.com/ridloal/product-catalog-service/internal/product/repository"
	"github.com/ridloal/product-catalog-service/internal/product/service"
)

const testKey = "s3cret"

// memoryRepository is an in-process stand-in for the Postgres repository.
type memoryRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.Product
	calls  int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{rows: map[int64]domain.Product{}}
}

func (m *memoryRepository) ListProducts(context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	out := []domain.Product{}
	for _, p := range m.rows {
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryRepository) GetProductByID(_ context.Context, id int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	p, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return &p, nil
}

func (m *memoryRepository) CreateProduct(_ context.Context, req domain.CreateProductRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.nextID++
	p := domain.Product{ID: m.nextID, Name: req.Name, Description: req.Description, Price: domain.NewPrice(req.Price.Round(2))}
	if req.Quantity != nil {
		p.Quantity = *req.Quantity
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.rows[p.ID] = p
	return p.ID, nil
}

func (m *memoryRepository) UpdateProduct(_ context.Context, id int64, req domain.UpdateProductRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	p, ok := m.rows[id]
	if !ok {
		return repository.ErrProductNotFound
	}
	p.Name, p.Description, p.Price = req.Name, req.Description, domain.NewPrice(req.Price.Round(2))
	if req.Quantity != nil {
		p.Quantity = *req.Quantity
	}
	p.UpdatedAt = time.Now()
	m.rows[id] = p
	return nil
}

func (m *memoryRepository) DeleteProduct(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if _, ok := m.rows[id]; !ok {
		return repository.ErrProductNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memoryRepository) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func newRouter(repo repository.ProductRepository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	gate := auth.NewGate(config.AuthConfig{APIKey: testKey}, log)
	h := NewProductHandler(service.NewProductService(repo, log), log)

	r := gin.New()
	h.RegisterRoutes(r, gate.Middleware())
	return r
}

func do(r *gin.Engine, method, path, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("X-API-KEY", testKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestProductHandler_EndToEnd(t *testing.T) {
	r := newRouter(newMemoryRepository())

	w := do(r, http.MethodPost, "/products", `{"name":"Widget","price":9.99}`, true)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"message":"Product added!","id":1}`, w.Body.String())

	w = do(r, http.MethodGet, "/products/1", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"Widget"`)
	assert.Contains(t, w.Body.String(), `"price":9.99`)
	assert.Contains(t, w.Body.String(), `"quantity":0`)

	w = do(r, http.MethodPut, "/products/1", `{"name":"Widget","price":12.50}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Product updated!","id":1}`, w.Body.String())

	w = do(r, http.MethodGet, "/products/1", "", false)
	assert.Contains(t, w.Body.String(), `"price":12.5`)
	assert.Contains(t, w.Body.String(), `"quantity":0`)

	w = do(r, http.MethodDelete, "/products/1", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Product deleted!","id":1}`, w.Body.String())

	w = do(r, http.MethodGet, "/products/1", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Product not found"}`, w.Body.String())
}

func TestProductHandler_UpdatePreservesQuantity(t *testing.T) {
	r := newRouter(newMemoryRepository())

	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/products", `{"name":"Bolt","price":1,"quantity":40}`, true).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPut, "/products/1", `{"name":"Bolt M4","price":1.2}`, true).Code)

	w := do(r, http.MethodGet, "/products/1", "", false)
	assert.Contains(t, w.Body.String(), `"quantity":40`)
	assert.Contains(t, w.Body.String(), `"name":"Bolt M4"`)
}

func TestProductHandler_Unauthorized(t *testing.T) {
	repo := newMemoryRepository()
	r := newRouter(repo)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/products", `{"name":"Keep","price":5}`, true).Code)
	callsBefore := repo.calls

	cases := []struct{ method, path, body string }{
		{http.MethodPost, "/products", `{"name":"Widget","price":9.99}`},
		{http.MethodPut, "/products/1", `{"name":"Widget","price":9.99}`},
		{http.MethodDelete, "/products/1", ""},
	}
	for _, tc := range cases {
		w := do(r, tc.method, tc.path, tc.body, false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.method)
		assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
	}
	assert.Equal(t, 1, repo.size())
	assert.Equal(t, callsBefore, repo.calls)
}

func TestProductHandler_NotFound(t *testing.T) {
	r := newRouter(newMemoryRepository())

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/products/42", "", false).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/products/42", "", true).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPut, "/products/42", `{"name":"X","price":1}`, true).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/products/abc", "", false).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/products/-3", "", false).Code)
}

func TestProductHandler_BadRequest(t *testing.T) {
	repo := newMemoryRepository()
	r := newRouter(repo)

	longName := `{"name":"` + strings.Repeat("a", 256) + `","price":1}`
	for _, body := range []string{`{"price":9.99}`, `{"name":"Widget"}`, `{"name":"  ","price":1}`, longName, `not json`} {
		w := do(r, http.MethodPost, "/products", body, true)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), `"error"`)
	}
	assert.Equal(t, 0, repo.calls)
}

func TestProductHandler_ListAndHome(t *testing.T) {
	r := newRouter(newMemoryRepository())

	w := do(r, http.MethodGet, "/", "", false)
	assert.JSONEq(t, `{"message":"Welcome to Product API"}`, w.Body.String())

	w = do(r, http.MethodGet, "/products", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

// Wires the real pool and repository against an unreachable database.
func TestProductHandler_PoolAcquisition(t *testing.T) {
	down := database.DialerFunc(func(context.Context) (database.Conn, error) {
		return nil, errors.New("connection refused")
	})
	pool := database.NewPool(down, database.Options{MaxSize: 2, AcquireTimeout: 50 * time.Millisecond}, zap.NewNop())
	defer pool.Close()
	r := newRouter(repository.NewPostgresProductRepository(pool, zap.NewNop()))

	w := do(r, http.MethodPost, "/products", `{"price":9.99}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	stats := pool.Stats()
	assert.Zero(t, stats.Acquired)
	assert.Zero(t, stats.AcquireFailures)

	w = do(r, http.MethodPost, "/products", `{"name":"Widget","price":9.99}`, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"DB connection failed"}`, w.Body.String())

	w = do(r, http.MethodGet, "/products", "", false)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	stats = pool.Stats()
	assert.EqualValues(t, 2, stats.AcquireFailures)
	assert.Zero(t, stats.InUse)
}
