package service

import (
	"context"

	"github.com/linemk/media-store/internal/domain/models"
)

// Notifier — внешний сервис уведомлений (почта). Вызовы fire-and-forget:
// ошибка уведомления логируется и никогда не валит операцию с заказом.
type Notifier interface {
	OrderConfirmed(ctx context.Context, order *models.Order, txn *models.PaymentTransaction) error
	OrderCancelled(ctx context.Context, order *models.Order) error
}
