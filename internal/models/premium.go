package models

import "time"

// PremiumOverride — глобальный премиум-доступ пользователя, не привязанный
// к конкретной возможности. Выдаётся административно (например, админам и
// за лояльность). Запись никогда не удаляется: после ExpiresAt она просто
// перестаёт учитываться при проверках.
type PremiumOverride struct {
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Tariff описывает условия покупки одной платной возможности.
type Tariff struct {
	Price       int    `yaml:"price" json:"price"`
	Currency    string `yaml:"currency" json:"currency"`
	TermDays    int    `yaml:"term_days" json:"term_days"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
}

// Term возвращает срок действия тарифа как time.Duration.
func (t Tariff) Term() time.Duration {
	return time.Duration(t.TermDays) * 24 * time.Hour
}
