// Package precheckout реализует обработчик синхронного pre-checkout
// запроса провайдера перед списанием средств.
//
// Провайдер ждёт ответа не более десяти секунд, иначе покупка
// срывается. Обработчик отвечает согласием всегда: сверка суммы
// с тарифом носит справочный характер, её ошибки только логируются.
// Это осознанный выбор доступности в ущерб строгости, а не упущение.
package precheckout

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/germannm/diet-premium/internal/http/response"
	"github.com/germannm/diet-premium/internal/lib/sl"
)

// Handler обрабатывает pre-checkout запросы провайдера.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает справочную сверку платежа с тарифом.
type Service interface {
	ValidatePreCheckout(ctx context.Context, paymentID string, amount int, currency string) error
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// Payload — pre-checkout запрос: платёж, который провайдер собирается
// провести. PaymentID — тот же идентификатор, что был выдан при создании.
type Payload struct {
	PaymentID string `json:"payment_id"`
	Amount    int    `json:"amount"`
	Currency  string `json:"currency"`
}

// ServeHTTP отвечает провайдеру согласием на списание.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.precheckout"

	log := h.log.With(
		sl.Op(op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var payload Payload
	if err := render.DecodeJSON(r.Body, &payload); err != nil {
		// Ответ согласием даже на нечитаемый запрос: блокировать
		// оплату из-за внутренней ошибки нельзя.
		log.Error("failed to decode pre-checkout body", sl.Err(err))
		render.JSON(w, r, response.OKWithData(map[string]any{"ok": true}))
		return
	}

	if err := h.service.ValidatePreCheckout(r.Context(), payload.PaymentID, payload.Amount, payload.Currency); err != nil {
		log.Error("pre-checkout validation failed, approving anyway",
			slog.String("payment_id", payload.PaymentID), sl.Err(err))
	}

	render.JSON(w, r, response.OKWithData(map[string]any{"ok": true}))
}
