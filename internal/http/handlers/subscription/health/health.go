// Package health реализует проверку живости сервиса и готовности базы данных.
package health

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/germannm/diet-premium/internal/http/response"
	"github.com/germannm/diet-premium/internal/lib/sl"
	"github.com/germannm/diet-premium/internal/storage/repository"
)

// Handler обрабатывает запросы проверки состояния сервиса.
type Handler struct {
	log *slog.Logger
	db  *repository.Storage
}

// New создает новый Handler с переданным логгером и хранилищем.
func New(log *slog.Logger, db *repository.Storage) *Handler {
	return &Handler{
		log: log,
		db:  db,
	}
}

// ServeHTTP отвечает статусом сервиса и готовностью базы данных.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.health"

	if err := repository.CheckDatabaseReady(h.db); err != nil {
		h.log.Error("database is not ready", sl.Op(op), sl.Err(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("database is not ready"))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"status": "ok",
	}))
}
