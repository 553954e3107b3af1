package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type ctxKeyCustomerID struct{}

// TokenParser проверяет токен и возвращает идентификатор пользователя.
type TokenParser interface {
	ParseToken(token string) (string, error)
}

// authMiddleware извлекает Bearer-токен и кладёт идентификатор клиента
// в контекст запроса. Запросы без валидного токена получают 401.
func authMiddleware(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			customerID, err := parser.ParseToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyCustomerID{}, customerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func customerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCustomerID{}).(string)
	return id
}

// ContextWithCustomerID используется в тестах обработчиков.
func ContextWithCustomerID(ctx context.Context, customerID string) context.Context {
	return context.WithValue(ctx, ctxKeyCustomerID{}, customerID)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger пишет структурированную запись на каждый запрос.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      recorder.status,
				"duration_ms": time.Since(started).Milliseconds(),
			}).Info("http request")
		})
	}
}
