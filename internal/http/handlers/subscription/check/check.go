// Package check реализует HTTP-обработчик проверки доступа пользователя
// к платной возможности. Вызывается ботом перед каждой платной командой,
// поэтому обработчик держится максимально лёгким: один вызов бизнес-логики
// без побочных эффектов.
package check

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/germannm/diet-premium/internal/http/response"
	"github.com/germannm/diet-premium/internal/lib/sl"
	"github.com/germannm/diet-premium/internal/models"
)

// Service описывает интерфейс бизнес-логики проверки доступа.
type Service interface {
	CheckSubscription(ctx context.Context, userID int64, feature models.Feature) (bool, error)
}

// Handler обрабатывает запросы проверки доступа.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP отвечает, доступна ли пользователю платная возможность.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.check"

	log := h.log.With(
		sl.Op(op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		log.Error("failed to decode user_id from query", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid user_id"))
		return
	}
	feature := r.URL.Query().Get("feature")
	if feature == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("feature is required"))
		return
	}

	allowed, err := h.service.CheckSubscription(r.Context(), userID, models.Feature(feature))
	if err != nil {
		log.Error("failed to check subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not check subscription"))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"allowed": allowed,
	}))
}
