// Package premiumservice собирает и запускает сервис премиум-подписок:
// хранилище, кеш, брокер событий, платёжного провайдера и HTTP-сервер.
package premiumservice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/germannm/diet-premium/internal/cache"
	"github.com/germannm/diet-premium/internal/config"
	"github.com/germannm/diet-premium/internal/lib/rabbitmq"
	"github.com/germannm/diet-premium/internal/migrations"
	"github.com/germannm/diet-premium/internal/paymentprovider"
	premium "github.com/germannm/diet-premium/internal/services/premium"
	"github.com/germannm/diet-premium/internal/storage/repository"
	"github.com/germannm/diet-premium/internal/storage/retrystore"
)

// App агрегирует ресурсы сервиса и управляет их жизненным циклом.
type App struct {
	server   *http.Server
	logger   *slog.Logger
	db       *repository.Storage
	cache    *cache.Cache
	amqpConn *amqp.Connection
}

// New инициализирует зависимости сервиса и готовый к запуску App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	var amqpConn *amqp.Connection
	var publisher premium.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		amqpConn, err = rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.ConnectRetries, cfg.RabbitMQ.ConnectDelay)
		if err != nil {
			return nil, err
		}
		ch, err := rabbitmq.SetupChannel(amqpConn)
		if err != nil {
			return nil, err
		}
		publisher = &activationPublisher{ch: ch}
	}

	var provider premium.PaymentProvider
	if cfg.YooKassa.ShopID != "" {
		provider = paymentprovider.NewClient(cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey)
	}

	store := retrystore.New(db, logger)
	service := premium.New(store, cacheRedis, publisher, provider,
		cfg.Tariffs.Map(), cfg.YooKassa.ReturnURL, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, service, db)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:   srv,
		logger:   logger,
		db:       db,
		cache:    cacheRedis,
		amqpConn: amqpConn,
	}, nil
}

// Run запускает HTTP-сервер и останавливает его при отмене контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if a.amqpConn != nil {
			_ = a.amqpConn.Close()
		}
		_ = a.db.DB.Close()
		return err
	}
}

// activationPublisher публикует события активации в RabbitMQ.
type activationPublisher struct {
	ch *amqp.Channel
}

func (p *activationPublisher) PublishActivation(_ context.Context, event premium.ActivationEvent) error {
	return rabbitmq.PublishMessage(p.ch, rabbitmq.PremiumExchange, rabbitmq.ActivationRoutingKey, event)
}
