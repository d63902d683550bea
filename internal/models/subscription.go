// Package models содержит доменные структуры премиум-подписок,
// а также вспомогательные типы для приёма данных из JSON-запросов.
package models

import "time"

// Feature обозначает платную возможность бота из фиксированного перечня.
type Feature string

// Перечень платных возможностей. Новые значения добавляются только вместе
// с тарифом в конфигурации.
const (
	FeatureDietConsultant Feature = "diet_consultant" // Личный диетолог
	FeatureMenuGenerator  Feature = "menu_generator"  // Генерация меню
)

// Status описывает состояние записи о покупке.
type Status string

// Жизненный цикл записи: pending -> completed | failed, completed -> refunded.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Subscription представляет одну попытку покупки платной возможности.
// PaymentID приходит от платёжного провайдера и уникален среди всех записей.
// StartDate и EndDate равны nil до подтверждения платежа: окно действия
// выставляется только в момент подтверждения, чтобы медленная оплата
// не сокращала срок подписки.
type Subscription struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Feature   Feature    `json:"feature"`
	PaymentID string     `json:"payment_id"`
	Amount    int        `json:"amount"`
	Currency  string     `json:"currency"`
	Status    Status     `json:"status"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsActive сообщает, действует ли подписка в момент now.
// Активность всегда вычисляется заново, отдельного флага в базе нет.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == StatusCompleted && s.EndDate != nil && s.EndDate.After(now)
}

// SubscriptionInfo — представление подписки для показа пользователю.
type SubscriptionInfo struct {
	ID        int64     `json:"id"`
	Feature   Feature   `json:"feature"`
	Status    Status    `json:"status"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsActive  bool      `json:"is_active"`
	DaysLeft  int       `json:"days_left"`
}

// PaymentParams — параметры для выставления счёта во внешнем чекауте.
type PaymentParams struct {
	PaymentID   string `json:"payment_id"`
	Amount      int    `json:"amount"`
	Currency    string `json:"currency"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// DummyPaymentRequest используется для приёма запроса на создание платежа.
type DummyPaymentRequest struct {
	UserID  int64  `json:"user_id" validate:"required"`
	Feature string `json:"feature" validate:"required"`
}

// DummyGrantRequest используется для приёма административного запроса
// на выдачу глобального премиума.
type DummyGrantRequest struct {
	UserID int64 `json:"user_id" validate:"required"`
	Days   int   `json:"days" validate:"required,gt=0"`
}
