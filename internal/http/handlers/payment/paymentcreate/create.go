// Package paymentcreate реализует HTTP-обработчик создания платежа
// за платную возможность.
//
// Handler принимает идентификатор пользователя и имя возможности,
// создаёт pending-запись о покупке и возвращает параметры для
// выставления счёта во внешнем чекауте.
package paymentcreate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/germannm/diet-premium/internal/http/response"
	"github.com/germannm/diet-premium/internal/lib/sl"
	"github.com/germannm/diet-premium/internal/models"
	"github.com/germannm/diet-premium/internal/services/premium"
)

// Handler обрабатывает запросы на создание платежа.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс бизнес-логики создания платежа.
type Service interface {
	CreatePayment(ctx context.Context, userID int64, feature models.Feature) (*models.PaymentParams, error)
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP обрабатывает HTTP-запрос на создание платежа.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.create"

	log := h.log.With(
		sl.Op(op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyPaymentRequest
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

	params, err := h.service.CreatePayment(r.Context(), req.UserID, models.Feature(req.Feature))
	if errors.Is(err, premium.ErrUnknownFeature) {
		log.Error("unknown feature requested", slog.String("feature", req.Feature))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("unknown feature"))
		return
	}
	if err != nil {
		log.Error("failed to create payment", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not create payment, try again later"))
		return
	}

	log.Info("payment created", slog.String("payment_id", params.PaymentID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"payment": params,
	}))
}
