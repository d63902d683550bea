package premium

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germannm/diet-premium/internal/models"
	"github.com/germannm/diet-premium/internal/paymentprovider"
)

// fakeRepo — потокобезопасное хранилище в памяти с той же семантикой
// условного обновления, что и у PostgreSQL-репозитория.
type fakeRepo struct {
	mu          sync.Mutex
	subs        map[string]*models.Subscription // по payment_id
	overrides   map[int64]time.Time
	nextID      int64
	transitions int // выполненные переходы pending -> completed
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subs:      make(map[string]*models.Subscription),
		overrides: make(map[int64]time.Time),
	}
}

func (r *fakeRepo) CreateSubscription(_ context.Context, sub models.Subscription) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subs[sub.PaymentID]; exists {
		return 0, errors.New("duplicate payment_id")
	}
	r.nextID++
	sub.ID = r.nextID
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	r.subs[sub.PaymentID] = &sub
	return sub.ID, nil
}

func (r *fakeRepo) ConfirmSubscription(_ context.Context, paymentID string, now time.Time, term time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[paymentID]
	if !ok || sub.Status != models.StatusPending {
		return false, nil
	}
	start := now
	end := now.Add(term)
	sub.Status = models.StatusCompleted
	sub.StartDate = &start
	sub.EndDate = &end
	sub.UpdatedAt = now
	r.transitions++
	return true, nil
}

func (r *fakeRepo) FindSubscriptionByPaymentID(_ context.Context, paymentID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[paymentID]
	if !ok {
		return nil, nil
	}
	clone := *sub
	return &clone, nil
}

func (r *fakeRepo) ExistsActiveSubscription(_ context.Context, userID int64, feature models.Feature, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.UserID == userID && sub.Feature == feature && sub.IsActive(now) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) FindLatestCompleted(_ context.Context, userID int64, feature models.Feature) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Subscription
	for _, sub := range r.subs {
		if sub.UserID != userID || sub.Feature != feature || sub.Status != models.StatusCompleted {
			continue
		}
		if latest == nil || sub.EndDate.After(*latest.EndDate) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (r *fakeRepo) ListSubscriptions(_ context.Context, userID int64, limit, offset int) ([]*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID {
			clone := *sub
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r *fakeRepo) MarkSubscriptionFailed(_ context.Context, paymentID string, now time.Time) (bool, error) {
	return r.mark(paymentID, now, models.StatusPending, models.StatusFailed)
}

func (r *fakeRepo) MarkSubscriptionRefunded(_ context.Context, paymentID string, now time.Time) (bool, error) {
	return r.mark(paymentID, now, models.StatusCompleted, models.StatusRefunded)
}

func (r *fakeRepo) mark(paymentID string, now time.Time, from, to models.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[paymentID]
	if !ok || sub.Status != from {
		return false, nil
	}
	sub.Status = to
	sub.UpdatedAt = now
	return true, nil
}

func (r *fakeRepo) UpsertPremiumOverride(_ context.Context, userID int64, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[userID] = expiresAt
	return nil
}

func (r *fakeRepo) FindPremiumOverride(_ context.Context, userID int64) (*models.PremiumOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiresAt, ok := r.overrides[userID]
	if !ok {
		return nil, nil
	}
	return &models.PremiumOverride{UserID: userID, ExpiresAt: expiresAt}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []ActivationEvent
}

func (p *fakePublisher) PublishActivation(_ context.Context, event ActivationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func testTariffs() map[models.Feature]models.Tariff {
	return map[models.Feature]models.Tariff{
		models.FeatureDietConsultant: {
			Price: 200, Currency: "RUB", TermDays: 7,
			Title:       "Личный диетолог",
			Description: "Персональные консультации диетолога на 7 дней",
		},
		models.FeatureMenuGenerator: {
			Price: 200, Currency: "RUB", TermDays: 7,
			Title:       "Генерация меню",
			Description: "Персональное меню на 7 дней",
		},
	}
}

func newTestService(repo EntitlementRepository) (*Service, *fakePublisher) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := &fakePublisher{}
	return New(repo, nil, publisher, nil, testTariffs(), "https://t.me/tvoy_diet_bot", logger), publisher
}

func TestCreatePayment(t *testing.T) {
	t.Run("успешное создание платежа", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(repo)

		params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		assert.Equal(t, 200, params.Amount)
		assert.Equal(t, "RUB", params.Currency)
		assert.Equal(t, "Личный диетолог", params.Title)
		assert.NotEmpty(t, params.PaymentID)

		sub, err := repo.FindSubscriptionByPaymentID(context.Background(), params.PaymentID)
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, models.StatusPending, sub.Status)
		assert.Nil(t, sub.StartDate)
		assert.Nil(t, sub.EndDate)
	})

	t.Run("неизвестная возможность", func(t *testing.T) {
		svc, _ := newTestService(newFakeRepo())

		_, err := svc.CreatePayment(context.Background(), 42, models.Feature("photo_recognition"))
		assert.ErrorIs(t, err, ErrUnknownFeature)
	})

	t.Run("повторная покупка не блокируется", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(repo)

		first, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		second, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		assert.NotEqual(t, first.PaymentID, second.PaymentID)
	})
}

func TestConfirmPayment(t *testing.T) {
	t.Run("первое подтверждение активирует подписку", func(t *testing.T) {
		repo := newFakeRepo()
		svc, publisher := newTestService(repo)
		confirmedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		svc.now = func() time.Time { return confirmedAt }

		params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)

		ok, err := svc.ConfirmPayment(context.Background(), params.PaymentID)
		require.NoError(t, err)
		assert.True(t, ok)

		sub, err := repo.FindSubscriptionByPaymentID(context.Background(), params.PaymentID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, sub.Status)
		assert.Equal(t, confirmedAt, *sub.StartDate)
		assert.Equal(t, confirmedAt.AddDate(0, 0, 7), *sub.EndDate)
		assert.Equal(t, 1, publisher.count())
	})

	t.Run("повторная доставка не продлевает окно", func(t *testing.T) {
		repo := newFakeRepo()
		svc, publisher := newTestService(repo)
		confirmedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		svc.now = func() time.Time { return confirmedAt }

		params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)

		ok, err := svc.ConfirmPayment(context.Background(), params.PaymentID)
		require.NoError(t, err)
		require.True(t, ok)

		// Повторная доставка приходит позже, но окно остаётся прежним.
		svc.now = func() time.Time { return confirmedAt.Add(2 * time.Hour) }
		ok, err = svc.ConfirmPayment(context.Background(), params.PaymentID)
		require.NoError(t, err)
		assert.True(t, ok)

		sub, err := repo.FindSubscriptionByPaymentID(context.Background(), params.PaymentID)
		require.NoError(t, err)
		assert.Equal(t, confirmedAt, *sub.StartDate)
		assert.Equal(t, confirmedAt.AddDate(0, 0, 7), *sub.EndDate)
		assert.Equal(t, 1, repo.transitions)
		assert.Equal(t, 1, publisher.count())
	})

	t.Run("неизвестный payment_id", func(t *testing.T) {
		svc, _ := newTestService(newFakeRepo())

		_, err := svc.ConfirmPayment(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})

	t.Run("одновременные подтверждения дают один переход", func(t *testing.T) {
		repo := newFakeRepo()
		svc, publisher := newTestService(repo)

		params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)

		const n = 20
		var wg sync.WaitGroup
		errs := make([]error, n)
		oks := make([]bool, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				oks[i], errs[i] = svc.ConfirmPayment(context.Background(), params.PaymentID)
			}()
		}
		wg.Wait()

		for i := range n {
			require.NoError(t, errs[i], "call %d", i)
			assert.True(t, oks[i], "call %d", i)
		}
		assert.Equal(t, 1, repo.transitions)
		assert.Equal(t, 1, publisher.count())
	})
}

func TestConfirmPaymentWithProvider(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		wantOK      bool
		wantPending bool
	}{
		{
			name:        "платёж не завершён у провайдера",
			status:      paymentprovider.StatusPending,
			wantOK:      false,
			wantPending: true,
		},
		{
			name:        "платёж завершён у провайдера",
			status:      paymentprovider.StatusSucceeded,
			wantOK:      true,
			wantPending: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			svc := New(repo, nil, nil, &stubProvider{status: tt.status},
				testTariffs(), "", logger)

			params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
			require.NoError(t, err)

			ok, err := svc.ConfirmPayment(context.Background(), params.PaymentID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)

			sub, err := repo.FindSubscriptionByPaymentID(context.Background(), params.PaymentID)
			require.NoError(t, err)
			if tt.wantPending {
				assert.Equal(t, models.StatusPending, sub.Status)
			} else {
				assert.Equal(t, models.StatusCompleted, sub.Status)
			}
		})
	}
}

// stubProvider выдаёт платёж с фиксированным статусом и идентификатором,
// равным ключу идемпотентности.
type stubProvider struct {
	status string
}

func (p *stubProvider) CreatePayment(_ context.Context, idempotenceKey string, req paymentprovider.CreatePaymentRequest) (*paymentprovider.Payment, error) {
	return &paymentprovider.Payment{
		ID:     idempotenceKey,
		Status: paymentprovider.StatusPending,
		Amount: req.Amount,
	}, nil
}

func (p *stubProvider) GetPayment(_ context.Context, paymentID string) (*paymentprovider.Payment, error) {
	return &paymentprovider.Payment{ID: paymentID, Status: p.status}, nil
}

func TestCheckSubscription(t *testing.T) {
	baseTime := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("окно действия подписки", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(repo)
		svc.now = func() time.Time { return baseTime }

		params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		_, err = svc.ConfirmPayment(context.Background(), params.PaymentID)
		require.NoError(t, err)

		tests := []struct {
			name string
			at   time.Time
			want bool
		}{
			{"сразу после подтверждения", baseTime, true},
			{"в середине окна", baseTime.AddDate(0, 0, 3), true},
			{"за секунду до конца", baseTime.AddDate(0, 0, 7).Add(-time.Second), true},
			{"ровно в конце окна", baseTime.AddDate(0, 0, 7), false},
			{"через 8 дней", baseTime.AddDate(0, 0, 8), false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc.now = func() time.Time { return tt.at }
				got, err := svc.CheckSubscription(context.Background(), 42, models.FeatureDietConsultant)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	})

	t.Run("подписка не даёт доступа к другой возможности", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(repo)
		svc.now = func() time.Time { return baseTime }

		params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		_, err = svc.ConfirmPayment(context.Background(), params.PaymentID)
		require.NoError(t, err)

		got, err := svc.CheckSubscription(context.Background(), 42, models.FeatureMenuGenerator)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("глобальный премиум открывает любую возможность", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(repo)
		svc.now = func() time.Time { return baseTime }

		_, err := svc.GrantPremium(context.Background(), 42, 30)
		require.NoError(t, err)

		for _, feature := range []models.Feature{models.FeatureDietConsultant, models.FeatureMenuGenerator} {
			got, err := svc.CheckSubscription(context.Background(), 42, feature)
			require.NoError(t, err)
			assert.True(t, got, "feature %s", feature)
		}

		// После окончания гранта доступ пропадает.
		svc.now = func() time.Time { return baseTime.AddDate(0, 0, 31) }
		got, err := svc.CheckSubscription(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("возврат платежа снимает доступ", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(repo)
		svc.now = func() time.Time { return baseTime }

		params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		_, err = svc.ConfirmPayment(context.Background(), params.PaymentID)
		require.NoError(t, err)

		require.NoError(t, svc.RefundPayment(context.Background(), params.PaymentID))

		got, err := svc.CheckSubscription(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		assert.False(t, got)

		// Повторный сигнал возврата — уже обработан.
		err = svc.RefundPayment(context.Background(), params.PaymentID)
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
	})
}

func TestGetSubscriptionInfo(t *testing.T) {
	baseTime := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("сведения об активной подписке", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(repo)
		svc.now = func() time.Time { return baseTime }

		params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		_, err = svc.ConfirmPayment(context.Background(), params.PaymentID)
		require.NoError(t, err)

		res, err := svc.GetSubscriptionInfo(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.True(t, res.IsActive)
		assert.Equal(t, 7, res.DaysLeft)
		assert.Equal(t, baseTime, res.StartDate)
		assert.Equal(t, baseTime.AddDate(0, 0, 7), res.EndDate)
	})

	t.Run("неполные сутки считаются целым днём", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(repo)
		svc.now = func() time.Time { return baseTime }

		params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		_, err = svc.ConfirmPayment(context.Background(), params.PaymentID)
		require.NoError(t, err)

		svc.now = func() time.Time { return baseTime.AddDate(0, 0, 6).Add(time.Hour) }
		res, err := svc.GetSubscriptionInfo(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, 1, res.DaysLeft)
	})

	t.Run("истёкшая подписка неактивна", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(repo)
		svc.now = func() time.Time { return baseTime }

		params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		_, err = svc.ConfirmPayment(context.Background(), params.PaymentID)
		require.NoError(t, err)

		svc.now = func() time.Time { return baseTime.AddDate(0, 0, 8) }
		res, err := svc.GetSubscriptionInfo(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.False(t, res.IsActive)
		assert.Equal(t, 0, res.DaysLeft)
	})

	t.Run("чужая подписка не возвращается", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(repo)
		svc.now = func() time.Time { return baseTime }

		params, err := svc.CreatePayment(context.Background(), 99, models.FeatureDietConsultant)
		require.NoError(t, err)
		_, err = svc.ConfirmPayment(context.Background(), params.PaymentID)
		require.NoError(t, err)

		res, err := svc.GetSubscriptionInfo(context.Background(), 42, models.FeatureDietConsultant)
		require.NoError(t, err)
		assert.Nil(t, res)
	})
}

func TestValidatePreCheckout(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
	require.NoError(t, err)

	t.Run("параметры совпадают с тарифом", func(t *testing.T) {
		err := svc.ValidatePreCheckout(context.Background(), params.PaymentID, 200, "RUB")
		assert.NoError(t, err)
	})

	t.Run("сумма не совпадает", func(t *testing.T) {
		err := svc.ValidatePreCheckout(context.Background(), params.PaymentID, 100, "RUB")
		assert.Error(t, err)
	})

	t.Run("неизвестный платёж", func(t *testing.T) {
		err := svc.ValidatePreCheckout(context.Background(), "missing", 200, "RUB")
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})
}

// Сквозной сценарий: покупка, подтверждение, проверка доступа, истечение.
func TestEndToEndScenario(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	baseTime := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return baseTime }

	params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
	require.NoError(t, err)
	require.Equal(t, 200, params.Amount)
	require.Equal(t, "RUB", params.Currency)

	ok, err := svc.ConfirmPayment(context.Background(), params.PaymentID)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := svc.GetSubscriptionInfo(context.Background(), 42, models.FeatureDietConsultant)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsActive)
	assert.Equal(t, 7, res.DaysLeft)
	assert.Equal(t, res.StartDate.AddDate(0, 0, 7), res.EndDate)

	svc.now = func() time.Time { return baseTime.AddDate(0, 0, 8) }
	got, err := svc.CheckSubscription(context.Background(), 42, models.FeatureDietConsultant)
	require.NoError(t, err)
	assert.False(t, got)
}

// Кеш: результат проверки переиспользуется, подтверждение сбрасывает его.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
	sets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(key string, result any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	if b, isBool := result.(*bool); isBool {
		*b = raw[0] == 1
		return true, nil
	}
	return false, fmt.Errorf("unexpected result type %T", result)
}

func (c *fakeCache) Set(key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if b, isBool := value.(bool); isBool {
		if b {
			c.data[key] = []byte{1}
		} else {
			c.data[key] = []byte{0}
		}
	}
	return nil
}

func (c *fakeCache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func TestCheckSubscriptionCache(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(repo, cache, nil, nil, testTariffs(), "", logger)

	got, err := svc.CheckSubscription(context.Background(), 42, models.FeatureDietConsultant)
	require.NoError(t, err)
	assert.False(t, got)
	assert.Equal(t, 1, cache.sets)

	// Повторная проверка берётся из кеша.
	got, err = svc.CheckSubscription(context.Background(), 42, models.FeatureDietConsultant)
	require.NoError(t, err)
	assert.False(t, got)
	assert.Equal(t, 1, cache.sets)

	// Подтверждение платежа сбрасывает кеш, доступ виден сразу.
	params, err := svc.CreatePayment(context.Background(), 42, models.FeatureDietConsultant)
	require.NoError(t, err)
	_, err = svc.ConfirmPayment(context.Background(), params.PaymentID)
	require.NoError(t, err)

	got, err = svc.CheckSubscription(context.Background(), 42, models.FeatureDietConsultant)
	require.NoError(t, err)
	assert.True(t, got)
}
