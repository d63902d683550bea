// Package premium содержит бизнес-логику платных возможностей:
// создание платежа, идемпотентное подтверждение, проверку доступа
// и сведения о подписке для показа пользователю.
package premium

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/germannm/diet-premium/internal/lib/sl"
	"github.com/germannm/diet-premium/internal/models"
	"github.com/germannm/diet-premium/internal/paymentprovider"
)

// checkCacheTTL ограничивает жизнь закешированного результата проверки
// доступа. Кеш — оптимизация, корректность обеспечивает база.
const checkCacheTTL = 30 * time.Second

var confirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "premium_confirmations_total",
	Help: "Results of payment confirmation processing.",
}, []string{"result"})

// EntitlementRepository определяет методы хранилища, нужные бизнес-логике.
type EntitlementRepository interface {
	// CreateSubscription добавляет запись о покупке и возвращает её ID.
	CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error)
	// ConfirmSubscription атомарно переводит pending -> completed и выставляет окно действия.
	ConfirmSubscription(ctx context.Context, paymentID string, now time.Time, term time.Duration) (bool, error)
	// FindSubscriptionByPaymentID возвращает запись по payment_id или nil.
	FindSubscriptionByPaymentID(ctx context.Context, paymentID string) (*models.Subscription, error)
	// ExistsActiveSubscription сообщает о наличии действующей подписки.
	ExistsActiveSubscription(ctx context.Context, userID int64, feature models.Feature, now time.Time) (bool, error)
	// FindLatestCompleted возвращает последнюю завершённую запись пользователя или nil.
	FindLatestCompleted(ctx context.Context, userID int64, feature models.Feature) (*models.Subscription, error)
	// ListSubscriptions возвращает историю покупок пользователя.
	ListSubscriptions(ctx context.Context, userID int64, limit, offset int) ([]*models.Subscription, error)
	// MarkSubscriptionFailed переводит pending -> failed.
	MarkSubscriptionFailed(ctx context.Context, paymentID string, now time.Time) (bool, error)
	// MarkSubscriptionRefunded переводит completed -> refunded.
	MarkSubscriptionRefunded(ctx context.Context, paymentID string, now time.Time) (bool, error)
	// UpsertPremiumOverride записывает глобальный премиум-грант.
	UpsertPremiumOverride(ctx context.Context, userID int64, expiresAt time.Time) error
	// FindPremiumOverride возвращает премиум-грант пользователя или nil.
	FindPremiumOverride(ctx context.Context, userID int64) (*models.PremiumOverride, error)
}

// Cache описывает методы для кэширования результатов проверки доступа.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// ActivationEvent публикуется после первого успешного подтверждения платежа.
type ActivationEvent struct {
	UserID  int64          `json:"user_id"`
	Feature models.Feature `json:"feature"`
	EndDate time.Time      `json:"end_date"`
}

// EventPublisher отправляет события активации потребителям (боту).
type EventPublisher interface {
	PublishActivation(ctx context.Context, event ActivationEvent) error
}

// PaymentProvider описывает нужные бизнес-логике операции платёжного
// провайдера. Ошибки провайдера возвращаются вызывающему коду как есть
// и на этом уровне не повторяются.
type PaymentProvider interface {
	CreatePayment(ctx context.Context, idempotenceKey string, req paymentprovider.CreatePaymentRequest) (*paymentprovider.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*paymentprovider.Payment, error)
}

// Service реализует бизнес-логику платных возможностей.
type Service struct {
	repo      EntitlementRepository
	cache     Cache
	publisher EventPublisher
	provider  PaymentProvider
	tariffs   map[models.Feature]models.Tariff
	returnURL string
	log       *slog.Logger
	now       func() time.Time
}

// New создает новый Service. Публикация событий и платёжный провайдер
// необязательны: при publisher = nil события активации не отправляются,
// при provider = nil платёж регистрируется только локально, а уведомления
// провайдера принимаются на веру (их подлинность проверяет подпись вебхука).
func New(repo EntitlementRepository, cache Cache, publisher EventPublisher,
	provider PaymentProvider, tariffs map[models.Feature]models.Tariff,
	returnURL string, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		provider:  provider,
		tariffs:   tariffs,
		returnURL: returnURL,
		log:       log,
		now:       time.Now,
	}
}

// CreatePayment создаёт запись о покупке со статусом pending и возвращает
// параметры для выставления счёта. Запись фиксируется в базе до любого
// обращения к провайдеру: упавший после этого процесс оставляет лишь
// неподтверждённую pending-запись. Одновременные покупки одной возможности
// не блокируются, политика дедупликации намеренно не применяется.
func (s *Service) CreatePayment(ctx context.Context, userID int64, feature models.Feature) (*models.PaymentParams, error) {
	tariff, ok := s.tariffs[feature]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}

	// Локальный UUID служит ключом идемпотентности запроса к провайдеру.
	// Если провайдер подключён, записывается выданный им идентификатор:
	// payment_id всегда совпадает с тем, что придёт в уведомлении.
	paymentID := uuid.New().String()
	if s.provider != nil {
		payment, err := s.provider.CreatePayment(ctx, paymentID, paymentprovider.CreatePaymentRequest{
			Amount: paymentprovider.Amount{
				Value:    strconv.Itoa(tariff.Price),
				Currency: tariff.Currency,
			},
			Confirmation: paymentprovider.Confirmation{
				Type:      "redirect",
				ReturnURL: s.returnURL,
			},
			Capture:     true,
			Description: tariff.Title + " - " + tariff.Description,
			Metadata: map[string]string{
				"user_id": strconv.FormatInt(userID, 10),
				"feature": string(feature),
			},
		})
		if err != nil {
			return nil, err
		}
		paymentID = payment.ID
	}

	sub := models.Subscription{
		UserID:    userID,
		Feature:   feature,
		PaymentID: paymentID,
		Amount:    tariff.Price,
		Currency:  tariff.Currency,
		Status:    models.StatusPending,
	}
	id, err := s.repo.CreateSubscription(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending subscription: %w", err)
	}

	s.log.Info("created pending subscription",
		slog.Int64("id", id),
		slog.Int64("user_id", userID),
		slog.String("feature", string(feature)),
		slog.String("payment_id", paymentID))

	return &models.PaymentParams{
		PaymentID:   paymentID,
		Amount:      tariff.Price,
		Currency:    tariff.Currency,
		Title:       tariff.Title,
		Description: tariff.Description,
	}, nil
}

// ConfirmPayment обрабатывает уведомление провайдера об успешной оплате.
// Идемпотентен: повторная доставка для уже завершённой записи возвращает
// успех без побочных эффектов. Из N одновременных вызовов для одного
// payment_id ровно один выполняет переход pending -> completed, остальные
// видят изменившийся статус и ничего не делают.
func (s *Service) ConfirmPayment(ctx context.Context, paymentID string) (bool, error) {
	sub, err := s.repo.FindSubscriptionByPaymentID(ctx, paymentID)
	if err != nil {
		return false, fmt.Errorf("failed to find subscription: %w", err)
	}
	if sub == nil {
		return false, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}

	tariff, ok := s.tariffs[sub.Feature]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownFeature, sub.Feature)
	}

	if s.provider != nil {
		payment, err := s.provider.GetPayment(ctx, paymentID)
		if err != nil {
			return false, err
		}
		if payment.Status != paymentprovider.StatusSucceeded {
			s.log.Warn("payment is not succeeded at provider",
				slog.String("payment_id", paymentID),
				slog.String("status", payment.Status))
			return false, nil
		}
	}

	now := s.now()
	confirmed, err := s.repo.ConfirmSubscription(ctx, paymentID, now, tariff.Term())
	if err != nil {
		return false, fmt.Errorf("failed to confirm subscription: %w", err)
	}
	if !confirmed {
		// Перехода не было: запись уже подтверждена повторной доставкой
		// либо переведена в failed/refunded.
		fresh, err := s.repo.FindSubscriptionByPaymentID(ctx, paymentID)
		if err != nil {
			return false, fmt.Errorf("failed to re-read subscription: %w", err)
		}
		if fresh != nil && fresh.Status == models.StatusCompleted {
			confirmationsTotal.WithLabelValues("duplicate").Inc()
			s.log.Info("duplicate confirmation, no-op", slog.String("payment_id", paymentID))
			return true, nil
		}
		confirmationsTotal.WithLabelValues("rejected").Inc()
		return false, nil
	}

	confirmationsTotal.WithLabelValues("confirmed").Inc()
	s.log.Info("subscription confirmed",
		slog.Int64("user_id", sub.UserID),
		slog.String("feature", string(sub.Feature)),
		slog.String("payment_id", paymentID),
		slog.Time("end_date", now.Add(tariff.Term())))

	s.invalidateCheck(sub.UserID, sub.Feature)

	if s.publisher != nil {
		event := ActivationEvent{
			UserID:  sub.UserID,
			Feature: sub.Feature,
			EndDate: now.Add(tariff.Term()),
		}
		if err := s.publisher.PublishActivation(ctx, event); err != nil {
			s.log.Warn("failed to publish activation event", sl.Err(err))
		}
	}
	return true, nil
}

// CheckSubscription сообщает, доступна ли пользователю платная возможность.
// Доступ даёт либо глобальный премиум-грант, либо действующая подписка
// на саму возможность. Кеш ускоряет повторные проверки, его сбои
// не влияют на результат.
func (s *Service) CheckSubscription(ctx context.Context, userID int64, feature models.Feature) (bool, error) {
	cacheKey := s.checkCacheKey(userID, feature)
	if s.cache != nil {
		var cached bool
		found, err := s.cache.Get(cacheKey, &cached)
		if err != nil {
			s.log.Warn("failed to read check cache", slog.String("key", cacheKey), sl.Err(err))
		} else if found {
			return cached, nil
		}
	}

	allowed, err := s.checkEntitlement(ctx, userID, feature)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		if err := s.cache.Set(cacheKey, allowed, checkCacheTTL); err != nil {
			s.log.Warn("failed to cache check result", slog.String("key", cacheKey), sl.Err(err))
		}
	}
	return allowed, nil
}

func (s *Service) checkEntitlement(ctx context.Context, userID int64, feature models.Feature) (bool, error) {
	now := s.now()

	override, err := s.repo.FindPremiumOverride(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to read premium override: %w", err)
	}
	if override != nil && override.ExpiresAt.After(now) {
		return true, nil
	}

	exists, err := s.repo.ExistsActiveSubscription(ctx, userID, feature, now)
	if err != nil {
		return false, fmt.Errorf("failed to check active subscription: %w", err)
	}
	return exists, nil
}

// GetSubscriptionInfo возвращает сведения о последней завершённой подписке
// пользователя на возможность или nil, если такой нет. Выборка всегда
// ограничена записями самого пользователя.
func (s *Service) GetSubscriptionInfo(ctx context.Context, userID int64, feature models.Feature) (*models.SubscriptionInfo, error) {
	sub, err := s.repo.FindLatestCompleted(ctx, userID, feature)
	if err != nil {
		return nil, fmt.Errorf("failed to find latest subscription: %w", err)
	}
	if sub == nil || sub.StartDate == nil || sub.EndDate == nil {
		return nil, nil
	}

	now := s.now()
	daysLeft := 0
	if sub.EndDate.After(now) {
		// Округление вверх: неполные сутки считаются целым днём.
		daysLeft = int((sub.EndDate.Sub(now) + 24*time.Hour - time.Nanosecond) / (24 * time.Hour))
	}

	return &models.SubscriptionInfo{
		ID:        sub.ID,
		Feature:   sub.Feature,
		Status:    sub.Status,
		StartDate: *sub.StartDate,
		EndDate:   *sub.EndDate,
		IsActive:  sub.EndDate.After(now),
		DaysLeft:  daysLeft,
	}, nil
}

// ListPayments возвращает историю покупок пользователя с пагинацией.
func (s *Service) ListPayments(ctx context.Context, userID int64, limit, offset int) ([]*models.Subscription, error) {
	return s.repo.ListSubscriptions(ctx, userID, limit, offset)
}

// GrantPremium выдаёт пользователю глобальный премиум на days дней
// от текущего момента. Повторная выдача заменяет дату окончания.
func (s *Service) GrantPremium(ctx context.Context, userID int64, days int) (time.Time, error) {
	expiresAt := s.now().AddDate(0, 0, days)
	if err := s.repo.UpsertPremiumOverride(ctx, userID, expiresAt); err != nil {
		return time.Time{}, fmt.Errorf("failed to grant premium: %w", err)
	}

	s.log.Info("premium override granted",
		slog.Int64("user_id", userID),
		slog.Time("expires_at", expiresAt))

	for feature := range s.tariffs {
		s.invalidateCheck(userID, feature)
	}
	return expiresAt, nil
}

// FailPayment отмечает платёж отменённым по сигналу провайдера.
func (s *Service) FailPayment(ctx context.Context, paymentID string) error {
	return s.markPayment(ctx, paymentID, s.repo.MarkSubscriptionFailed)
}

// RefundPayment отмечает платёж возвращённым по сигналу провайдера.
// Возврат немедленно снимает доступ: активность выводится из статуса.
func (s *Service) RefundPayment(ctx context.Context, paymentID string) error {
	return s.markPayment(ctx, paymentID, s.repo.MarkSubscriptionRefunded)
}

func (s *Service) markPayment(ctx context.Context, paymentID string,
	mark func(context.Context, string, time.Time) (bool, error)) error {
	sub, err := s.repo.FindSubscriptionByPaymentID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("failed to find subscription: %w", err)
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}

	changed, err := mark(ctx, paymentID, s.now())
	if err != nil {
		return fmt.Errorf("failed to mark subscription: %w", err)
	}
	if !changed {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, paymentID)
	}

	s.invalidateCheck(sub.UserID, sub.Feature)
	return nil
}

// ValidatePreCheckout сверяет параметры платежа с тарифом перед списанием.
// Результат носит справочный характер: обработчик pre-checkout отвечает
// провайдеру согласием независимо от итога проверки.
func (s *Service) ValidatePreCheckout(ctx context.Context, paymentID string, amount int, currency string) error {
	sub, err := s.repo.FindSubscriptionByPaymentID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("failed to find subscription: %w", err)
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	if sub.Amount != amount || sub.Currency != currency {
		return fmt.Errorf("amount mismatch for %s: expected %d %s, got %d %s",
			paymentID, sub.Amount, sub.Currency, amount, currency)
	}
	return nil
}

func (s *Service) checkCacheKey(userID int64, feature models.Feature) string {
	return fmt.Sprintf("premium:check:%d:%s", userID, feature)
}

func (s *Service) invalidateCheck(userID int64, feature models.Feature) {
	if s.cache == nil {
		return
	}
	cacheKey := s.checkCacheKey(userID, feature)
	if err := s.cache.Invalidate(cacheKey); err != nil {
		s.log.Warn("failed to invalidate check cache", slog.String("key", cacheKey), sl.Err(err))
	}
}
