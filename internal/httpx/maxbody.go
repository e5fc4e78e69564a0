package httpx

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
)

const payloadTooLargeBody = `{"detail":"request body exceeds size limit"}`

// MaxBodyBytes rejects requests whose body exceeds maxBytes with 413,
// checking Content-Length first and falling back to a bounded read so
// chunked or spoofed bodies are still caught.
func MaxBodyBytes(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				writeTooLarge(w)
				return
			}

			body := http.MaxBytesReader(w, r.Body, maxBytes)
			buf, err := io.ReadAll(body)
			if err != nil {
				slog.WarnContext(r.Context(), "request body size limit exceeded",
					"method", r.Method, "path", r.URL.Path, "limit", maxBytes)
				writeTooLarge(w)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(buf))
			next.ServeHTTP(w, r)
		})
	}
}

func writeTooLarge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
	if _, err := w.Write([]byte(payloadTooLargeBody)); err != nil {
		slog.Error("write payload too large response", "error", err)
	}
}
