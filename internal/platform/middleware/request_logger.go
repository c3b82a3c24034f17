package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ridloal/product-catalog-service/internal/platform/auth"
)

// MaxLoggedBody caps how much of a request or response body is attached to an event.
const MaxLoggedBody = 5000

const redacted = "[REDACTED]"

var sensitiveHeaders = func() map[string]bool {
	m := map[string]bool{
		"Cookie":              true,
		"Set-Cookie":          true,
		"Proxy-Authorization": true,
	}
	for _, h := range auth.CredentialHeaders {
		m[http.CanonicalHeaderKey(h)] = true
	}
	return m
}()

type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyLogWriter) capture(n int) int {
	room := MaxLoggedBody - w.body.Len()
	if room < 0 {
		return 0
	}
	if n < room {
		return n
	}
	return room
}

func (w *bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b[:w.capture(len(b))])
	return w.ResponseWriter.Write(b)
}

func (w *bodyLogWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s[:w.capture(len(s))])
	return w.ResponseWriter.WriteString(s)
}

type readCloser struct {
	io.Reader
	io.Closer
}

// peekBody returns the first MaxLoggedBody bytes and puts them back in front
// of the unread remainder so handlers still see the whole body.
func peekBody(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	prefix, err := io.ReadAll(io.LimitReader(r.Body, MaxLoggedBody))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(prefix), r.Body), Closer: r.Body}
	if err != nil {
		return "<unable to read>"
	}
	return string(prefix)
}

// RedactHeaders flattens headers for logging, masking credentials and any
// bearer-style value.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		v := strings.Join(values, ",")
		if sensitiveHeaders[http.CanonicalHeaderKey(name)] || strings.HasPrefix(strings.ToLower(v), "bearer ") {
			v = redacted
		}
		out[name] = v
	}
	return out
}

// RequestLogger emits a "request" event before dispatch and a "response"
// event after it. A failure while logging never changes the response.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		req := c.Request

		safeLog(func() {
			log.Info("request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.String("query", req.URL.RawQuery),
				zap.String("remote_ip", c.ClientIP()),
				zap.Any("headers", RedactHeaders(req.Header)),
				zap.String("body", peekBody(req)),
				zap.String("request_id", RequestIDFrom(c)),
			)
		})

		blw := &bodyLogWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = blw

		c.Next()

		safeLog(func() {
			log.Info("response",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", c.Writer.Status()),
				zap.Int("bytes", c.Writer.Size()),
				zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
				zap.String("response_body", blw.body.String()),
				zap.String("request_id", RequestIDFrom(c)),
			)
		})
	}
}

func safeLog(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
