// Package grant реализует административный HTTP-обработчик выдачи
// глобального премиум-доступа пользователю. Грант не привязан
// к конкретной возможности и учитывается при любой проверке доступа.
package grant

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/germannm/diet-premium/internal/http/response"
	"github.com/germannm/diet-premium/internal/lib/sl"
	"github.com/germannm/diet-premium/internal/models"
)

// Service описывает интерфейс бизнес-логики выдачи премиума.
type Service interface {
	GrantPremium(ctx context.Context, userID int64, days int) (time.Time, error)
}

// Handler обрабатывает запросы выдачи премиума.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP обрабатывает запрос на выдачу глобального премиума.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.premium.grant"

	log := h.log.With(
		sl.Op(op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyGrantRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var validateErrs validator.ValidationErrors
		if errors.As(err, &validateErrs) {
			log.Error("invalid request", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.ValidationError(validateErrs))
			return
		}
		log.Error("failed to validate request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request"))
		return
	}

	expiresAt, err := h.service.GrantPremium(r.Context(), req.UserID, req.Days)
	if err != nil {
		log.Error("failed to grant premium", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not grant premium"))
		return
	}

	log.Info("premium granted",
		slog.Int64("user_id", req.UserID),
		slog.Time("expires_at", expiresAt))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"expires_at": expiresAt,
	}))
}
