// Package paymentwebhook реализует обработчик асинхронных уведомлений
// провайдера о судьбе платежа: успех, отмена, возврат.
//
// Уведомления могут доставляться повторно, поэтому обработка успеха
// идемпотентна: повторная доставка для уже активированной подписки
// получает 200 OK без побочных эффектов.
package paymentwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/germannm/diet-premium/internal/http/response"
	"github.com/germannm/diet-premium/internal/lib/sl"
	"github.com/germannm/diet-premium/internal/services/premium"
)

// События провайдера, которые обрабатывает сервис.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
	EventRefundSucceeded  = "refund.succeeded"
)

// Service описывает интерфейс бизнес-логики обработки уведомлений.
type Service interface {
	ConfirmPayment(ctx context.Context, paymentID string) (bool, error)
	FailPayment(ctx context.Context, paymentID string) error
	RefundPayment(ctx context.Context, paymentID string) error
}

// Handler обрабатывает уведомления провайдера.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string // Секрет для проверки подписи
}

// New создает новый Handler с переданным логгером, сервисом и секретом подписи.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
	}
}

// Payload — уведомление провайдера. Object.ID передаётся в бизнес-логику
// без какого-либо преобразования: это тот же payment_id, что был выдан
// при создании платежа.
type Payload struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// Проверка подписи webhook (X-Api-Signature)
func (h *Handler) verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

// ServeHTTP обрабатывает уведомление провайдера.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(sl.Op(op))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Api-Signature")
	if signature == "" || !h.verifySignature(h.webhookSecret, body, signature) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid payload"))
		return
	}

	log = log.With(
		slog.String("event", payload.Event),
		slog.String("payment_id", payload.Object.ID),
	)

	switch payload.Event {
	case EventPaymentSucceeded:
		h.handleSucceeded(w, r, log, payload.Object.ID)
	case EventPaymentCanceled:
		h.handleMark(w, r, log, h.service.FailPayment, payload.Object.ID)
	case EventRefundSucceeded:
		h.handleMark(w, r, log, h.service.RefundPayment, payload.Object.ID)
	default:
		// Незнакомые события подтверждаются, чтобы провайдер
		// не доставлял их повторно.
		log.Info("ignoring unsupported webhook event")
		render.JSON(w, r, response.OK())
	}
}

func (h *Handler) handleSucceeded(w http.ResponseWriter, r *http.Request, log *slog.Logger, paymentID string) {
	confirmed, err := h.service.ConfirmPayment(r.Context(), paymentID)
	if errors.Is(err, premium.ErrPaymentNotFound) {
		log.Error("payment not found", sl.Err(err))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("payment not found, contact support"))
		return
	}
	if err != nil {
		// Запись остаётся pending для ручной сверки.
		log.Error("failed to confirm payment", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not confirm payment, contact support"))
		return
	}
	if !confirmed {
		log.Error("payment is not confirmable")
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("payment is not confirmable"))
		return
	}

	log.Info("payment confirmed")
	render.JSON(w, r, response.OK())
}

func (h *Handler) handleMark(w http.ResponseWriter, r *http.Request, log *slog.Logger,
	mark func(context.Context, string) error, paymentID string) {
	err := mark(r.Context(), paymentID)
	if errors.Is(err, premium.ErrPaymentNotFound) {
		log.Error("payment not found", sl.Err(err))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("payment not found"))
		return
	}
	if errors.Is(err, premium.ErrAlreadyProcessed) {
		// Повторная доставка, состояние уже учтено.
		log.Info("duplicate mark delivery, no-op")
		render.JSON(w, r, response.OK())
		return
	}
	if err != nil {
		log.Error("failed to mark payment", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not process event"))
		return
	}

	log.Info("payment marked")
	render.JSON(w, r, response.OK())
}
