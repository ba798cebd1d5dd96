package server

import (
	"log"
	"net/http"
	"time"

	"github.com/IvanBrykalov/edgecache/internal/fileserver"
	"github.com/google/uuid"
)

// HeaderRequestID is propagated to upstreams and echoed to clients.
const HeaderRequestID = "X-Request-ID"

// requestID makes sure every request carries an ID, reusing a client-supplied one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// accessLog writes one line per finished request.
func accessLog(listener string, logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &recorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		hit := w.Header().Get(fileserver.HeaderCache)
		if hit == "" {
			hit = "-"
		}
		logger.Printf("%s %s %s %d %dB %s %s id=%s",
			listener, r.Method, r.URL.RequestURI(), rw.code, rw.bytes,
			time.Since(start).Round(time.Microsecond), hit,
			r.Header.Get(HeaderRequestID))
	})
}

type recorder struct {
	http.ResponseWriter
	code        int
	bytes       int64
	wroteHeader bool
}

func (w *recorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recorder) Write(p []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *recorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
