package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/media-store/internal/domain/models"
	"github.com/linemk/media-store/internal/storage"
)

type ReconcileService interface {
	// UpdateStatus применяет исход оплаты от провайдера к локальной транзакции
	// и при успехе продвигает заказ в PENDING. counterpart — банк или кошелёк
	// плательщика из уведомления провайдера, если провайдер его сообщает.
	UpdateStatus(ctx context.Context, orderID int64, status models.PaymentStatus, counterpart, rawResponse string) error
}

type reconcileService struct {
	log         *slog.Logger
	db          *sql.DB
	orderRepo   storage.OrderStorage
	paymentRepo storage.PaymentStorage
	notifier    Notifier
	scheduler   ExpiryScheduler
}

func NewReconcileService(
	log *slog.Logger,
	db *sql.DB,
	orderRepo storage.OrderStorage,
	paymentRepo storage.PaymentStorage,
	notifier Notifier,
	scheduler ExpiryScheduler,
) ReconcileService {
	return &reconcileService{
		log:         log,
		db:          db,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		notifier:    notifier,
		scheduler:   scheduler,
	}
}

// UpdateStatus выполняется одной транзакцией БД: статус платежа и продвижение
// заказа либо фиксируются вместе, либо не фиксируются вовсе. Повторный
// идентичный callback безвреден: статус перезаписывается тем же значением,
// а заказ продвигается только из PLACING.
func (s *reconcileService) UpdateStatus(ctx context.Context, orderID int64, status models.PaymentStatus, counterpart, rawResponse string) error {
	const op = "service.ReconcileService.UpdateStatus"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID), slog.String("status", string(status)))
	logger.Info("reconciling payment status")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	txn, err := s.paymentRepo.LockByOrderIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to get payment transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to get payment transaction: %w", op, err)
	}

	if err := s.paymentRepo.UpdateStatusTx(ctx, tx, txn.ID, status, counterpart, rawResponse); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update payment status", slog.Any("error", err))
		return fmt.Errorf("%s: failed to update payment status: %w", op, err)
	}

	var order *models.Order
	if status == models.PaymentStatusSuccess {
		order, err = s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to get order", slog.Any("error", err))
			return fmt.Errorf("%s: failed to get order: %w", op, err)
		}
		// оплачено — ждёт решения менеджера; повторный callback не двигает дальше
		if order.Status == models.OrderStatusPlacing {
			if err := s.orderRepo.UpdateStatusTx(ctx, tx, orderID, models.OrderStatusPending); err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					logger.Error("transaction rollback failed", slog.Any("error", rbErr))
				}
				logger.Error("failed to advance order", slog.Any("error", err))
				return fmt.Errorf("%s: failed to advance order: %w", op, err)
			}
			order.Status = models.OrderStatusPending
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	if status == models.PaymentStatusSuccess {
		// оплата началась и завершилась — таймер снятия больше не нужен
		s.scheduler.Disarm(orderID)

		// подтверждение уходит после коммита; сбой уведомления не откатывает платёж
		txn.Status = status
		go func(o models.Order, t models.PaymentTransaction) {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.notifier.OrderConfirmed(nctx, &o, &t); err != nil {
				logger.Error("confirmation notification failed", slog.Any("error", err))
			}
		}(*order, *txn)
	}

	logger.Info("payment status reconciled")
	return nil
}
