package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/linemk/media-store/internal/domain/models"
	"github.com/linemk/media-store/internal/payment/gateway"
	"github.com/linemk/media-store/internal/storage"
)

type PaymentService interface {
	// CreatePaymentURL открывает платёжную попытку у выбранного шлюза и
	// возвращает URL для оплаты.
	CreatePaymentURL(ctx context.Context, orderID int64, method, description, clientIP string) (*gateway.PaymentURL, error)
}

type paymentService struct {
	log         *slog.Logger
	orderRepo   storage.OrderStorage
	paymentRepo storage.PaymentStorage
	gateways    *gateway.Registry
}

func NewPaymentService(
	log *slog.Logger,
	orderRepo storage.OrderStorage,
	paymentRepo storage.PaymentStorage,
	gateways *gateway.Registry,
) PaymentService {
	return &paymentService{
		log:         log,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		gateways:    gateways,
	}
}

// CreatePaymentURL сначала фиксирует PENDING-транзакцию в БД и только потом
// ходит к шлюзу: исходящий сетевой вызов никогда не держит транзакцию БД.
// Сбой шлюза оставляет транзакцию в PENDING для ручной реконсилиации.
func (s *paymentService) CreatePaymentURL(ctx context.Context, orderID int64, method, description, clientIP string) (*gateway.PaymentURL, error) {
	const op = "service.PaymentService.CreatePaymentURL"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID), slog.String("method", method))
	logger.Info("creating payment url")

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		logger.Error("failed to get order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get order: %w", op, err)
	}

	// не больше одной PENDING-транзакции на заказ; гонку на вставке
	// ловит частичный уникальный индекс
	pending, err := s.paymentRepo.HasPendingByOrderID(ctx, orderID)
	if err != nil {
		logger.Error("failed to check pending transactions", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to check pending transactions: %w", op, err)
	}
	if pending {
		logger.Warn("order already has a pending payment")
		return nil, fmt.Errorf("%s: %w", op, storage.ErrDuplicatePendingPayment)
	}

	gw := s.gateways.Resolve(method)

	txn := &models.PaymentTransaction{
		TxnRef:  uuid.NewString(),
		OrderID: orderID,
		Method:  gw.MethodName(),
		Content: description,
		Status:  models.PaymentStatusPending,
	}
	if _, err := s.paymentRepo.CreateTransaction(ctx, txn); err != nil {
		logger.Error("failed to create payment transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create payment transaction: %w", op, err)
	}

	paymentURL, err := gw.ProcessPayment(ctx, clientIP, order, gateway.PaymentData{Description: description})
	if err != nil {
		// транзакция остаётся в PENDING: оплата могла уйти, разберёт реконсилиация
		logger.Error("gateway call failed", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	logger.Info("payment url created", slog.String("responseType", string(paymentURL.ResponseType)))
	return paymentURL, nil
}
