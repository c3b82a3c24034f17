package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newEngine(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), RequestLogger(log))
	r.POST("/echo", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusCreated, "%d", len(b))
	})
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func fieldsOf(e observer.LoggedEntry) map[string]interface{} {
	return e.ContextMap()
}

func TestRequestLogger_EmitsRequestAndResponse(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newEngine(zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/ping?verbose=1", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "request", entries[0].Message)
	assert.Equal(t, "response", entries[1].Message)

	reqFields := fieldsOf(entries[0])
	assert.Equal(t, "GET", reqFields["method"])
	assert.Equal(t, "/ping", reqFields["path"])
	assert.Equal(t, "verbose=1", reqFields["query"])
	assert.Equal(t, "req-123", reqFields["request_id"])

	respFields := fieldsOf(entries[1])
	assert.EqualValues(t, 200, respFields["status"])
	assert.Equal(t, `{"status":"ok"}`, respFields["response_body"])
	assert.Contains(t, respFields, "latency_ms")
}

func TestRequestLogger_RedactsCredentials(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newEngine(zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-KEY", "s3cret")
	req.Header.Set("Authorization", "s3cret")
	req.Header.Set("X-Forwarded-Token", "Bearer abc.def")
	req.Header.Set("Accept", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), req)

	hdrs, ok := fieldsOf(logs.FilterMessage("request").All()[0])["headers"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, redacted, hdrs["X-Api-Key"])
	assert.Equal(t, redacted, hdrs["Authorization"])
	assert.Equal(t, redacted, hdrs["X-Forwarded-Token"])
	assert.Equal(t, "application/json", hdrs["Accept"])
}

func TestRequestLogger_TruncatesBodyButHandlerSeesAll(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newEngine(zap.New(core))

	body := strings.Repeat("x", MaxLoggedBody+1234)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body)))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "6234", w.Body.String())

	logged := fieldsOf(logs.FilterMessage("request").All()[0])["body"].(string)
	assert.Len(t, logged, MaxLoggedBody)
}

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	r := newEngine(zap.NewNop())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

type panicCore struct{ zapcore.Core }

func (panicCore) Enabled(zapcore.Level) bool { return true }
func (c panicCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(e, c)
}
func (panicCore) Write(zapcore.Entry, []zapcore.Field) error { panic("sink broken") }

func TestRequestLogger_LoggingFailureDoesNotAffectResponse(t *testing.T) {
	r := newEngine(zap.New(panicCore{Core: zapcore.NewNopCore()}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
