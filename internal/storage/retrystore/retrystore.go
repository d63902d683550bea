// Package retrystore оборачивает хранилище повторением запросов
// при временных сбоях соединения. Повторяются только ошибки класса
// связности (обрывы, сбросы соединения, недоступность сервера),
// все остальные ошибки (нарушения ограничений, битые данные)
// возвращаются сразу без повторов.
package retrystore

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/germannm/diet-premium/internal/lib/sl"
	"github.com/germannm/diet-premium/internal/models"
	"github.com/germannm/diet-premium/internal/storage/repository"
)

// Количество попыток и стартовая пауза между ними. Паузы растут
// экспоненциально, итоговое ожидание остаётся в пределах секунды.
const (
	maxRetries      = 2 // повторов после первой попытки
	initialInterval = 100 * time.Millisecond
)

// Store повторяет вызовы repository.Storage при временных сбоях.
// Для вызывающего кода прозрачен: сигнатуры совпадают с хранилищем.
type Store struct {
	inner *repository.Storage
	log   *slog.Logger
}

// New создаёт обёртку над хранилищем.
func New(inner *repository.Storage, log *slog.Logger) *Store {
	return &Store{
		inner: inner,
		log:   log,
	}
}

// Inner возвращает обёрнутое хранилище, например для проверки готовности.
func (s *Store) Inner() *repository.Storage {
	return s.inner
}

// IsTransient сообщает, относится ли ошибка к временным сбоям соединения.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code)
	}
	return pgconn.SafeToRetry(err)
}

func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		s.log.Warn("transient storage error, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			sl.Err(err))
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}

// CreateSubscription см. repository.Storage.CreateSubscription.
func (s *Store) CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error) {
	var id int64
	err := s.retry(ctx, "storage.CreateSubscription", func() error {
		var err error
		id, err = s.inner.CreateSubscription(ctx, sub)
		return err
	})
	return id, err
}

// ConfirmSubscription см. repository.Storage.ConfirmSubscription.
func (s *Store) ConfirmSubscription(ctx context.Context, paymentID string, now time.Time, term time.Duration) (bool, error) {
	var ok bool
	err := s.retry(ctx, "storage.ConfirmSubscription", func() error {
		var err error
		ok, err = s.inner.ConfirmSubscription(ctx, paymentID, now, term)
		return err
	})
	return ok, err
}

// FindSubscriptionByPaymentID см. repository.Storage.FindSubscriptionByPaymentID.
func (s *Store) FindSubscriptionByPaymentID(ctx context.Context, paymentID string) (*models.Subscription, error) {
	var sub *models.Subscription
	err := s.retry(ctx, "storage.FindSubscriptionByPaymentID", func() error {
		var err error
		sub, err = s.inner.FindSubscriptionByPaymentID(ctx, paymentID)
		return err
	})
	return sub, err
}

// ExistsActiveSubscription см. repository.Storage.ExistsActiveSubscription.
func (s *Store) ExistsActiveSubscription(ctx context.Context, userID int64, feature models.Feature, now time.Time) (bool, error) {
	var exists bool
	err := s.retry(ctx, "storage.ExistsActiveSubscription", func() error {
		var err error
		exists, err = s.inner.ExistsActiveSubscription(ctx, userID, feature, now)
		return err
	})
	return exists, err
}

// FindLatestCompleted см. repository.Storage.FindLatestCompleted.
func (s *Store) FindLatestCompleted(ctx context.Context, userID int64, feature models.Feature) (*models.Subscription, error) {
	var sub *models.Subscription
	err := s.retry(ctx, "storage.FindLatestCompleted", func() error {
		var err error
		sub, err = s.inner.FindLatestCompleted(ctx, userID, feature)
		return err
	})
	return sub, err
}

// ListSubscriptions см. repository.Storage.ListSubscriptions.
func (s *Store) ListSubscriptions(ctx context.Context, userID int64, limit, offset int) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	err := s.retry(ctx, "storage.ListSubscriptions", func() error {
		var err error
		subs, err = s.inner.ListSubscriptions(ctx, userID, limit, offset)
		return err
	})
	return subs, err
}

// MarkSubscriptionFailed см. repository.Storage.MarkSubscriptionFailed.
func (s *Store) MarkSubscriptionFailed(ctx context.Context, paymentID string, now time.Time) (bool, error) {
	var ok bool
	err := s.retry(ctx, "storage.MarkSubscriptionFailed", func() error {
		var err error
		ok, err = s.inner.MarkSubscriptionFailed(ctx, paymentID, now)
		return err
	})
	return ok, err
}

// MarkSubscriptionRefunded см. repository.Storage.MarkSubscriptionRefunded.
func (s *Store) MarkSubscriptionRefunded(ctx context.Context, paymentID string, now time.Time) (bool, error) {
	var ok bool
	err := s.retry(ctx, "storage.MarkSubscriptionRefunded", func() error {
		var err error
		ok, err = s.inner.MarkSubscriptionRefunded(ctx, paymentID, now)
		return err
	})
	return ok, err
}

// UpsertPremiumOverride см. repository.Storage.UpsertPremiumOverride.
func (s *Store) UpsertPremiumOverride(ctx context.Context, userID int64, expiresAt time.Time) error {
	return s.retry(ctx, "storage.UpsertPremiumOverride", func() error {
		return s.inner.UpsertPremiumOverride(ctx, userID, expiresAt)
	})
}

// FindPremiumOverride см. repository.Storage.FindPremiumOverride.
func (s *Store) FindPremiumOverride(ctx context.Context, userID int64) (*models.PremiumOverride, error) {
	var override *models.PremiumOverride
	err := s.retry(ctx, "storage.FindPremiumOverride", func() error {
		var err error
		override, err = s.inner.FindPremiumOverride(ctx, userID)
		return err
	})
	return override, err
}
