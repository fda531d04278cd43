package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/media-store/internal/domain/models"
	"github.com/linemk/media-store/internal/storage"
	"github.com/samber/lo"
)

// ExpiryScheduler — таймеры снятия неоплаченных заказов.
// Реализация в пакете scheduler, здесь только нужный сервису срез.
type ExpiryScheduler interface {
	Arm(orderID int64)
	Disarm(orderID int64)
}

// CreateOrderResult — созданный заказ с позициями и признаком,
// есть ли среди товаров пригодные к rush-доставке
type CreateOrderResult struct {
	Order        *models.Order                 `json:"order"`
	Items        []*models.LineItemWithProduct `json:"line_items"`
	RushEligible bool                          `json:"rush_eligible"`
}

type OrderService interface {
	Create(ctx context.Context, cartID int64, productIDs []int64) (*CreateOrderResult, error)
	CheckStock(ctx context.Context, orderID int64) error
	ApproveOrReject(ctx context.Context, orderID int64, approve bool) error
	Cancel(ctx context.Context, orderID, requesterID int64) error
	Remove(ctx context.Context, orderID int64) error
}

type orderService struct {
	log          *slog.Logger
	db           *sql.DB
	cartRepo     storage.CartStorage
	productRepo  storage.ProductStorage
	orderRepo    storage.OrderStorage
	lineItemRepo storage.LineItemStorage
	deliveryRepo storage.DeliveryStorage
	paymentRepo  storage.PaymentStorage
	notifier     Notifier
	scheduler    ExpiryScheduler
}

func NewOrderService(
	log *slog.Logger,
	db *sql.DB,
	cartRepo storage.CartStorage,
	productRepo storage.ProductStorage,
	orderRepo storage.OrderStorage,
	lineItemRepo storage.LineItemStorage,
	deliveryRepo storage.DeliveryStorage,
	paymentRepo storage.PaymentStorage,
	notifier Notifier,
	scheduler ExpiryScheduler,
) OrderService {
	return &orderService{
		log:          log,
		db:           db,
		cartRepo:     cartRepo,
		productRepo:  productRepo,
		orderRepo:    orderRepo,
		lineItemRepo: lineItemRepo,
		deliveryRepo: deliveryRepo,
		paymentRepo:  paymentRepo,
		notifier:     notifier,
		scheduler:    scheduler,
	}
}

// Create оформляет заказ из корзины: копирует выбранные позиции, проверяет
// остатки и взводит таймер снятия неоплаченного заказа.
// При нехватке остатков заказ и позиции откатываются целиком.
func (s *orderService) Create(ctx context.Context, cartID int64, productIDs []int64) (*CreateOrderResult, error) {
	const op = "service.OrderService.Create"
	logger := s.log.With(slog.String("op", op), slog.Int64("cartID", cartID))
	logger.Info("creating order from cart")

	cart, err := s.cartRepo.GetCartByID(ctx, cartID)
	if err != nil {
		logger.Error("failed to get cart", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get cart: %w", op, err)
	}

	cartItems, err := s.cartRepo.GetCartItems(ctx, cart.ID)
	if err != nil {
		logger.Error("failed to get cart items", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get cart items: %w", op, err)
	}

	// заказ собирается из выбранных позиций корзины; пустой список — из всех
	if len(productIDs) > 0 {
		cartItems = lo.Filter(cartItems, func(item *models.CartItem, _ int) bool {
			return lo.Contains(productIDs, item.ProductID)
		})
	}
	if len(cartItems) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrCartEmpty)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	orderID, err := s.orderRepo.CreateOrderTx(ctx, tx, cart.ID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to create order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create order: %w", op, err)
	}

	lineItems := lo.Map(cartItems, func(item *models.CartItem, _ int) *models.OrderLineItem {
		return &models.OrderLineItem{
			OrderID:   orderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
	})
	if err := s.lineItemRepo.CreateLineItemsTx(ctx, tx, lineItems); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to create line items", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create line items: %w", op, err)
	}

	// проверка остатков после создания: при нехватке весь заказ откатывается
	result := &CreateOrderResult{}
	var shortfalls []StockShortfall
	for _, item := range lineItems {
		product, err := s.productRepo.GetProductByID(ctx, item.ProductID)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to get product", slog.Int64("productID", item.ProductID), slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to get product: %w", op, err)
		}
		if item.Quantity > product.Stock {
			shortfalls = append(shortfalls, StockShortfall{
				ProductID: product.ID,
				Title:     product.Title,
				Requested: item.Quantity,
				Available: product.Stock,
			})
		}
		if product.RushEligible {
			result.RushEligible = true
		}
		result.Items = append(result.Items, &models.LineItemWithProduct{
			OrderLineItem: *item,
			Product:       *product,
		})
	}
	if len(shortfalls) > 0 {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("insufficient stock, order rolled back", slog.Int("products", len(shortfalls)))
		return nil, fmt.Errorf("%s: %w", op, &InsufficientStockError{Shortfalls: shortfalls})
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		logger.Error("failed to reload order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to reload order: %w", op, err)
	}
	result.Order = order

	// одноразовый таймер: если оплата не начнётся вовремя, заказ будет снят
	s.scheduler.Arm(orderID)

	logger.Info("order created", slog.Int64("orderID", orderID), slog.Bool("rushEligible", result.RushEligible))
	return result, nil
}

// CheckStock сверяет каждую позицию заказа с текущим остатком, ничего не меняя.
// При нехватке возвращает InsufficientStockError с разбивкой по товарам.
func (s *orderService) CheckStock(ctx context.Context, orderID int64) error {
	const op = "service.OrderService.CheckStock"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID))

	if _, err := s.orderRepo.GetOrderByID(ctx, orderID); err != nil {
		logger.Error("failed to get order", slog.Any("error", err))
		return fmt.Errorf("%s: failed to get order: %w", op, err)
	}

	items, err := s.lineItemRepo.FindLineItemsWithProduct(ctx, orderID)
	if err != nil {
		logger.Error("failed to get line items", slog.Any("error", err))
		return fmt.Errorf("%s: failed to get line items: %w", op, err)
	}

	var shortfalls []StockShortfall
	for _, item := range items {
		if item.Quantity > item.Product.Stock {
			shortfalls = append(shortfalls, StockShortfall{
				ProductID: item.ProductID,
				Title:     item.Product.Title,
				Requested: item.Quantity,
				Available: item.Product.Stock,
			})
		}
	}
	if len(shortfalls) > 0 {
		logger.Warn("insufficient stock", slog.Int("products", len(shortfalls)))
		return fmt.Errorf("%s: %w", op, &InsufficientStockError{Shortfalls: shortfalls})
	}
	return nil
}

// ApproveOrReject фиксирует решение менеджера по оплаченному заказу.
// Подтверждение повторно проверяет остатки и списывает их в одной транзакции:
// либо списываются все позиции, либо ни одной.
func (s *orderService) ApproveOrReject(ctx context.Context, orderID int64, approve bool) error {
	const op = "service.OrderService.ApproveOrReject"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID), slog.Bool("approve", approve))
	logger.Info("processing manager decision")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to get order", slog.Any("error", err))
		return fmt.Errorf("%s: failed to get order: %w", op, err)
	}

	// решение принимается только по оплаченному заказу
	if order.Status != models.OrderStatusPending {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("order is not pending", slog.String("status", string(order.Status)))
		return fmt.Errorf("%s: status %s: %w", op, order.Status, ErrInvalidTransition)
	}

	if approve {
		if err := s.decrementStockTx(ctx, tx, logger, orderID); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := s.orderRepo.SetDecisionTx(ctx, tx, orderID, models.OrderStatusAccepted, time.Now()); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to accept order", slog.Any("error", err))
			return fmt.Errorf("%s: failed to accept order: %w", op, err)
		}
	} else {
		if err := s.orderRepo.SetDecisionTx(ctx, tx, orderID, models.OrderStatusRejected, time.Now()); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to reject order", slog.Any("error", err))
			return fmt.Errorf("%s: failed to reject order: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	logger.Info("decision applied")
	return nil
}

// decrementStockTx блокирует товары заказа, повторно проверяет остатки и
// списывает их. Любая нехватка прерывает всю операцию без частичных списаний.
func (s *orderService) decrementStockTx(ctx context.Context, tx *sql.Tx, logger *slog.Logger, orderID int64) error {
	items, err := s.lineItemRepo.GetLineItemsTx(ctx, tx, orderID)
	if err != nil {
		logger.Error("failed to get line items", slog.Any("error", err))
		return fmt.Errorf("failed to get line items: %w", err)
	}

	var shortfalls []StockShortfall
	locked := make(map[int64]*models.Product, len(items))
	for _, item := range items {
		product, err := s.productRepo.LockProductByIDTx(ctx, tx, item.ProductID)
		if err != nil {
			logger.Error("failed to lock product", slog.Int64("productID", item.ProductID), slog.Any("error", err))
			return fmt.Errorf("failed to lock product: %w", err)
		}
		if item.Quantity > product.Stock {
			shortfalls = append(shortfalls, StockShortfall{
				ProductID: product.ID,
				Title:     product.Title,
				Requested: item.Quantity,
				Available: product.Stock,
			})
		}
		locked[item.ProductID] = product
	}
	if len(shortfalls) > 0 {
		logger.Warn("insufficient stock at acceptance", slog.Int("products", len(shortfalls)))
		return &InsufficientStockError{Shortfalls: shortfalls}
	}

	for _, item := range items {
		product := locked[item.ProductID]
		if err := s.productRepo.UpdateStockTx(ctx, tx, product.ID, product.Stock-item.Quantity); err != nil {
			logger.Error("failed to decrement stock", slog.Int64("productID", product.ID), slog.Any("error", err))
			return fmt.Errorf("failed to decrement stock: %w", err)
		}
	}
	return nil
}

// Cancel — отмена заказа владельцем; допускается только до решения менеджера.
// Для уже оплаченного заказа уведомление об отмене уходит асинхронно.
func (s *orderService) Cancel(ctx context.Context, orderID, requesterID int64) error {
	const op = "service.OrderService.Cancel"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID), slog.Int64("requesterID", requesterID))
	logger.Info("cancelling order")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to get order", slog.Any("error", err))
		return fmt.Errorf("%s: failed to get order: %w", op, err)
	}

	// владелец заказа определяется через корзину
	cart, err := s.cartRepo.GetCartByID(ctx, order.CartID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to get cart", slog.Any("error", err))
		return fmt.Errorf("%s: failed to get cart: %w", op, err)
	}
	if cart.UserID != requesterID {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("requester is not the owner")
		return fmt.Errorf("%s: %w", op, ErrNotOrderOwner)
	}

	if order.Status != models.OrderStatusPlacing && order.Status != models.OrderStatusPending {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("order cannot be cancelled", slog.String("status", string(order.Status)))
		return fmt.Errorf("%s: status %s: %w", op, order.Status, ErrInvalidTransition)
	}
	wasPaid := order.Status == models.OrderStatusPending

	if err := s.orderRepo.UpdateStatusTx(ctx, tx, orderID, models.OrderStatusCancelledByUser); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update status", slog.Any("error", err))
		return fmt.Errorf("%s: failed to update status: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.scheduler.Disarm(orderID)

	// уведомление об отмене оплаченного заказа: асинхронно, сбой только логируется
	if wasPaid {
		order.Status = models.OrderStatusCancelledByUser
		go func(o models.Order) {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.notifier.OrderCancelled(nctx, &o); err != nil {
				logger.Error("cancellation notification failed", slog.Any("error", err))
			}
		}(*order)
	}

	logger.Info("order cancelled")
	return nil
}

// Remove физически удаляет неоплаченный заказ вместе с зависимыми строками,
// дети раньше родителя. Удалить можно только заказ в статусе PLACING: после
// начала оплаты заказ и его транзакции не удаляются, только меняют статус.
// Идемпотентна: повторное удаление — успех без эффекта, чтобы не падать на
// гонке с таймером снятия; проверка статуса идёт под блокировкой строки.
func (s *orderService) Remove(ctx context.Context, orderID int64) error {
	const op = "service.OrderService.Remove"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID))
	logger.Info("removing order")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			if cmErr := tx.Commit(); cmErr != nil {
				logger.Error("failed to commit transaction", slog.Any("error", cmErr))
				return fmt.Errorf("%s: failed to commit transaction: %w", op, cmErr)
			}
			s.scheduler.Disarm(orderID)
			logger.Info("order already absent, nothing removed")
			return nil
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to get order", slog.Any("error", err))
		return fmt.Errorf("%s: failed to get order: %w", op, err)
	}
	if order.Status != models.OrderStatusPlacing {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("order cannot be removed", slog.String("status", string(order.Status)))
		return fmt.Errorf("%s: status %s: %w", op, order.Status, ErrInvalidTransition)
	}

	if err := s.paymentRepo.DeleteByOrderTx(ctx, tx, orderID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to delete payment transactions", slog.Any("error", err))
		return fmt.Errorf("%s: failed to delete payment transactions: %w", op, err)
	}
	if err := s.lineItemRepo.DeleteByOrderTx(ctx, tx, orderID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to delete line items", slog.Any("error", err))
		return fmt.Errorf("%s: failed to delete line items: %w", op, err)
	}
	if err := s.deliveryRepo.DeleteByOrderTx(ctx, tx, orderID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to delete delivery info", slog.Any("error", err))
		return fmt.Errorf("%s: failed to delete delivery info: %w", op, err)
	}

	if _, err := s.orderRepo.DeleteOrderTx(ctx, tx, orderID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to delete order", slog.Any("error", err))
		return fmt.Errorf("%s: failed to delete order: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.scheduler.Disarm(orderID)

	logger.Info("order removed")
	return nil
}

var _ error = (*InsufficientStockError)(nil)

// AsInsufficientStock достаёт детали нехватки из цепочки ошибок
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return stockErr, true
	}
	return nil, false
}
