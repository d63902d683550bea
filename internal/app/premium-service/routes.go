// Package premiumservice предоставляет маршруты сервиса премиум-подписок.
package premiumservice

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/germannm/diet-premium/internal/config"
	"github.com/germannm/diet-premium/internal/http/handlers/payment/paymentcreate"
	"github.com/germannm/diet-premium/internal/http/handlers/payment/paymentlist"
	"github.com/germannm/diet-premium/internal/http/handlers/payment/paymentwebhook"
	"github.com/germannm/diet-premium/internal/http/handlers/payment/precheckout"
	"github.com/germannm/diet-premium/internal/http/handlers/premium/grant"
	"github.com/germannm/diet-premium/internal/http/handlers/subscription/check"
	"github.com/germannm/diet-premium/internal/http/handlers/subscription/health"
	"github.com/germannm/diet-premium/internal/http/handlers/subscription/info"
	"github.com/germannm/diet-premium/internal/http/middlewarectx"
	premium "github.com/germannm/diet-premium/internal/services/premium"
	"github.com/germannm/diet-premium/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config,
	service *premium.Service, db *repository.Storage) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Внутренние конечные точки для бота и веб-бэкенда
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.InternalTokenMiddleware(cfg.InternalToken, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Post("/payments", paymentcreate.New(logger, service).ServeHTTP)
			r.Get("/payments/list", paymentlist.New(logger, service).ServeHTTP)
			r.Get("/subscriptions/check", check.New(logger, service).ServeHTTP)
			r.Get("/subscriptions/info", info.New(logger, service).ServeHTTP)
			r.Post("/premium/grant", grant.New(logger, service).ServeHTTP)
		})

		// Колбэки провайдера: без внутреннего токена и без ограничения
		// частоты, pre-checkout обязан успеть в жёсткий дедлайн.
		r.Post("/payments/precheckout", precheckout.New(logger, service).ServeHTTP)
		r.Post("/payments/webhook", paymentwebhook.New(logger, service, cfg.YooKassa.WebhookSecret).ServeHTTP)
	})

	r.Get("/health", health.New(logger, db).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
