package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// Gzip compresses response bodies for clients that accept gzip. WebSocket
// upgrades are passed through untouched.
func Gzip(level int) gin.HandlerFunc {
	pool := sync.Pool{
		New: func() any {
			w, err := gzip.NewWriterLevel(nil, level)
			if err != nil {
				w = gzip.NewWriter(nil)
			}
			return w
		},
	}

	return func(c *gin.Context) {
		if !acceptsGzip(c.Request) {
			c.Next()
			return
		}

		gz := pool.Get().(*gzip.Writer)
		defer pool.Put(gz)
		gz.Reset(c.Writer)

		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		w := &gzipWriter{ResponseWriter: c.Writer, gz: gz}
		c.Writer = w
		defer func() {
			// Nothing was written, e.g. 204 or an aborted request.
			if !w.written {
				w.Header().Del("Content-Encoding")
				w.Header().Del("Vary")
				gz.Reset(nil)
				return
			}
			_ = gz.Close()
		}()

		c.Next()
	}
}

func acceptsGzip(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

type gzipWriter struct {
	gin.ResponseWriter
	gz      *gzip.Writer
	written bool
}

func (w *gzipWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *gzipWriter) Write(data []byte) (int, error) {
	w.Header().Del("Content-Length")
	w.written = true
	return w.gz.Write(data)
}

func (w *gzipWriter) WriteHeader(code int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(code)
}
