package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/germannm/diet-premium/internal/models"
)

// UpsertPremiumOverride записывает глобальный премиум-грант пользователя.
// Повторная выдача заменяет дату окончания, по одной записи на пользователя.
func (s *Storage) UpsertPremiumOverride(ctx context.Context, userID int64, expiresAt time.Time) error {
	const op = "storage.UpsertPremiumOverride"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO premium_overrides (user_id, expires_at)
			  VALUES ($1, $2)
			  ON CONFLICT (user_id)
			  DO UPDATE SET expires_at = EXCLUDED.expires_at, updated_at = now()`
	if _, err := s.DB.ExecContext(ctx, query, userID, expiresAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindPremiumOverride возвращает премиум-грант пользователя или nil,
// если гранта нет. Истёкшие записи не удаляются: срок сверяет вызывающий код.
func (s *Storage) FindPremiumOverride(ctx context.Context, userID int64) (*models.PremiumOverride, error) {
	const op = "storage.FindPremiumOverride"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT user_id, expires_at FROM premium_overrides WHERE user_id = $1`
	row := s.DB.QueryRowContext(ctx, query, userID)

	var result models.PremiumOverride
	err := row.Scan(&result.UserID, &result.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}
