package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/Proton-105/site-pulse/internal/errors"
	"github.com/Proton-105/site-pulse/internal/idempotency"
)

const (
	HeaderIdempotencyKey    = "Idempotency-Key"
	HeaderIdempotentReplay  = "Idempotent-Replayed"
	maxIdempotencyKeyLength = 255
	defaultIdempotencyTTL   = 24 * time.Hour
)

// bufferedWriter holds a response in memory so it can be stored before it is sent.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

// Idempotency replays the stored response when a request is retried with the same
// Idempotency-Key header. Requests without the header pass through. Keys are scoped
// to method and path.
func Idempotency(manager idempotency.Manager, ttl time.Duration, errHandler *apperrors.Handler, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	return func(next http.Handler) http.Handler {
		if manager == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				writeAppError(w, r, errHandler, apperrors.NewValidationError("Idempotency-Key is too long"))
				return
			}

			var buffered *bufferedWriter
			result, err := manager.Execute(r.Context(), r.Method+" "+r.URL.Path+":"+key, ttl, func(context.Context) (*idempotency.Record, error) {
				buffered = &bufferedWriter{header: w.Header()}
				next.ServeHTTP(buffered, r)
				return &idempotency.Record{
					StatusCode:  buffered.statusCode(),
					ContentType: buffered.header.Get("Content-Type"),
					Body:        buffered.body.Bytes(),
				}, nil
			})

			switch {
			case errors.Is(err, idempotency.ErrRequestInProgress):
				writeAppError(w, r, errHandler, &apperrors.AppError{
					Code:        "E121",
					Message:     err.Error(),
					UserMessage: "A request with this Idempotency-Key is still being processed",
					Severity:    apperrors.SeverityLow,
					Status:      http.StatusConflict,
				})
				return
			case err != nil && buffered == nil:
				log.Warn("idempotency store unavailable, processing request",
					slog.String("path", r.URL.Path),
					slog.Any("error", err),
				)
				next.ServeHTTP(w, r)
				return
			case err != nil:
				writeAppError(w, r, errHandler, apperrors.NewDatabaseError(err))
				return
			}

			if result.FromCache {
				if result.Record.ContentType != "" {
					w.Header().Set("Content-Type", result.Record.ContentType)
				}
				w.Header().Set(HeaderIdempotentReplay, "true")
			}
			w.WriteHeader(result.Record.StatusCode)
			_, _ = w.Write(result.Record.Body)
		})
	}
}

func (w *bufferedWriter) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func writeAppError(w http.ResponseWriter, r *http.Request, errHandler *apperrors.Handler, err *apperrors.AppError) {
	if errHandler != nil {
		errHandler.WriteJSON(w, r, err)
		return
	}
	http.Error(w, err.UserMessage, err.Status)
}
