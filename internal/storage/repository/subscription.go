package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/germannm/diet-premium/internal/models"
)

// CreateSubscription вставляет новую запись о покупке со статусом pending
// и возвращает её ID. Даты начала и окончания не выставляются.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_id, feature, payment_id, amount, currency, status)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query,
		sub.UserID, sub.Feature, sub.PaymentID, sub.Amount, sub.Currency, sub.Status).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// ConfirmSubscription атомарно переводит запись pending -> completed и
// выставляет окно действия. Условие status = 'pending' гарантирует, что из
// нескольких одновременных подтверждений одного payment_id ровно одно
// выполнит переход, остальные вернут false.
func (s *Storage) ConfirmSubscription(ctx context.Context, paymentID string, now time.Time, term time.Duration) (bool, error) {
	const op = "storage.ConfirmSubscription"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = $1, start_date = $2, end_date = $3, updated_at = $2
			  WHERE payment_id = $4 AND status = $5`
	result, err := s.DB.ExecContext(ctx, query,
		models.StatusCompleted, now, now.Add(term), paymentID, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}

// FindSubscriptionByPaymentID возвращает запись по её payment_id
// или nil, если записи нет.
func (s *Storage) FindSubscriptionByPaymentID(ctx context.Context, paymentID string) (*models.Subscription, error) {
	const op = "storage.FindSubscriptionByPaymentID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, feature, payment_id, amount, currency, status,
				  start_date, end_date, created_at, updated_at
			  FROM subscriptions WHERE payment_id = $1`
	row := s.DB.QueryRowContext(ctx, query, paymentID)

	var result models.Subscription
	err := row.Scan(&result.ID, &result.UserID, &result.Feature, &result.PaymentID,
		&result.Amount, &result.Currency, &result.Status,
		&result.StartDate, &result.EndDate, &result.CreatedAt, &result.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// ExistsActiveSubscription сообщает, есть ли у пользователя действующая
// подписка на возможность: status = completed и end_date позже now.
func (s *Storage) ExistsActiveSubscription(ctx context.Context, userID int64, feature models.Feature, now time.Time) (bool, error) {
	const op = "storage.ExistsActiveSubscription"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT EXISTS (
				  SELECT 1 FROM subscriptions
				  WHERE user_id = $1 AND feature = $2 AND status = $3 AND end_date > $4
			  )`
	var exists bool
	if err := s.DB.QueryRowContext(ctx, query, userID, feature, models.StatusCompleted, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// FindLatestCompleted возвращает последнюю по дате окончания запись
// пользователя со статусом completed или nil, если таких нет.
func (s *Storage) FindLatestCompleted(ctx context.Context, userID int64, feature models.Feature) (*models.Subscription, error) {
	const op = "storage.FindLatestCompleted"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, feature, payment_id, amount, currency, status,
				  start_date, end_date, created_at, updated_at
			  FROM subscriptions
			  WHERE user_id = $1 AND feature = $2 AND status = $3
			  ORDER BY end_date DESC
			  LIMIT 1`
	row := s.DB.QueryRowContext(ctx, query, userID, feature, models.StatusCompleted)

	var result models.Subscription
	err := row.Scan(&result.ID, &result.UserID, &result.Feature, &result.PaymentID,
		&result.Amount, &result.Currency, &result.Status,
		&result.StartDate, &result.EndDate, &result.CreatedAt, &result.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// ListSubscriptions возвращает историю покупок пользователя с пагинацией,
// новые записи первыми. Записи не удаляются физически, история полная.
func (s *Storage) ListSubscriptions(ctx context.Context, userID int64, limit, offset int) ([]*models.Subscription, error) {
	const op = "storage.ListSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, feature, payment_id, amount, currency, status,
				  start_date, end_date, created_at, updated_at
			  FROM subscriptions
			  WHERE user_id = $1
			  ORDER BY created_at DESC, id DESC
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var result []*models.Subscription
	for rows.Next() {
		var item models.Subscription
		if err := rows.Scan(&item.ID, &item.UserID, &item.Feature, &item.PaymentID,
			&item.Amount, &item.Currency, &item.Status,
			&item.StartDate, &item.EndDate, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	err = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// MarkSubscriptionFailed переводит запись pending -> failed по сигналу
// провайдера об отмене платежа. Возвращает, была ли изменена запись.
func (s *Storage) MarkSubscriptionFailed(ctx context.Context, paymentID string, now time.Time) (bool, error) {
	const op = "storage.MarkSubscriptionFailed"
	return s.markStatus(ctx, op, paymentID, now, models.StatusPending, models.StatusFailed)
}

// MarkSubscriptionRefunded переводит запись completed -> refunded по сигналу
// провайдера о возврате. Возвращает, была ли изменена запись.
func (s *Storage) MarkSubscriptionRefunded(ctx context.Context, paymentID string, now time.Time) (bool, error) {
	const op = "storage.MarkSubscriptionRefunded"
	return s.markStatus(ctx, op, paymentID, now, models.StatusCompleted, models.StatusRefunded)
}

func (s *Storage) markStatus(ctx context.Context, op string, paymentID string, now time.Time, from, to models.Status) (bool, error) {
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = $1, updated_at = $2
			  WHERE payment_id = $3 AND status = $4`
	result, err := s.DB.ExecContext(ctx, query, to, now, paymentID, from)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}
