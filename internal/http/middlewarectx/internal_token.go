// Package middlewarectx содержит middleware для маршрутов сервиса:
// проверку внутреннего токена и ограничение частоты запросов.
package middlewarectx

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/germannm/diet-premium/internal/http/response"
)

// InternalTokenMiddleware пропускает только запросы доверенных процессов
// (бота и веб-бэкенда) с верным значением заголовка X-Internal-Token.
// Сравнение выполняется за постоянное время.
func InternalTokenMiddleware(token string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Internal-Token")
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				log.Error("missing or invalid internal token", slog.String("path", r.URL.Path))
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
