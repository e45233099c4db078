package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	errors "github.com/Proton-105/site-pulse/internal/errors"
)

// Recovery catches panics from downstream handlers, reports them through errHandler
// and answers with a 500 when nothing has been written yet.
func Recovery(log *slog.Logger, errHandler *errors.Handler) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				log.Error("panic recovered in http handler",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)

				if sw.wroteHeader {
					return
				}

				appErr := errors.NewDatabaseError(fmt.Errorf("panic recovered: %v", rec))
				if errHandler != nil {
					errHandler.WriteJSON(sw, r, appErr)
					return
				}
				http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
