// Package info реализует HTTP-обработчик сведений о подписке пользователя
// на платную возможность: последняя оплаченная запись с вычисленными
// полями is_active и days_left.
package info

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

// Service описывает интерфейс бизнес-логики чтения сведений о подписке.
type Service interface {
	GetSubscriptionInfo(ctx context.Context, userID int64, feature models.Feature) (*models.SubscriptionInfo, error)
}

// Handler обрабатывает запросы сведений о подписке.
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

// ServeHTTP возвращает сведения о подписке или null, если подписки нет.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.info"

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

	res, err := h.service.GetSubscriptionInfo(r.Context(), userID, models.Feature(feature))
	if err != nil {
		log.Error("failed to get subscription info", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get subscription info"))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"subscription": res,
	}))
}
