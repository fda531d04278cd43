package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/linemk/media-store/internal/domain/models"
	"github.com/linemk/media-store/internal/service/fee"
	"github.com/linemk/media-store/internal/storage"
	"github.com/samber/lo"
)

// RushProvinceCode — единственный регион, обслуживаемый rush-доставкой.
// Сознательно одна константа: политика исходной системы, не расширяем.
const RushProvinceCode = "HN"

// DeliveryResult — сохранённые данные доставки и расчёт тарифа
type DeliveryResult struct {
	Info        *models.DeliveryInfo `json:"delivery_info"`
	Fee         fee.Result           `json:"fee"`
	RushedItems int64                `json:"rushed_items"`
}

type DeliveryService interface {
	// CreateDelivery принимает данные доставки (обычной или rush), помечает
	// rush-позиции и рассчитывает стоимость доставки выбранной стратегией.
	CreateDelivery(ctx context.Context, orderID int64, info *models.DeliveryInfo, productIDs []int64, strategy string) (*DeliveryResult, error)
}

type deliveryService struct {
	log          *slog.Logger
	orderRepo    storage.OrderStorage
	lineItemRepo storage.LineItemStorage
	deliveryRepo storage.DeliveryStorage
	feeEngine    *fee.Engine
}

func NewDeliveryService(
	log *slog.Logger,
	orderRepo storage.OrderStorage,
	lineItemRepo storage.LineItemStorage,
	deliveryRepo storage.DeliveryStorage,
	feeEngine *fee.Engine,
) DeliveryService {
	return &deliveryService{
		log:          log,
		orderRepo:    orderRepo,
		lineItemRepo: lineItemRepo,
		deliveryRepo: deliveryRepo,
		feeEngine:    feeEngine,
	}
}

func (s *deliveryService) CreateDelivery(ctx context.Context, orderID int64, info *models.DeliveryInfo, productIDs []int64, strategy string) (*DeliveryResult, error) {
	const op = "service.DeliveryService.CreateDelivery"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID))
	logger.Info("creating delivery info")

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		logger.Error("failed to get order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get order: %w", op, err)
	}
	if order.Status != models.OrderStatusPlacing {
		logger.Warn("order is not in placing", slog.String("status", string(order.Status)))
		return nil, fmt.Errorf("%s: status %s: %w", op, order.Status, ErrInvalidTransition)
	}

	// вся валидация до какой-либо записи: отклонённый запрос не оставляет следов
	rush := info.IsRush() || len(productIDs) > 0
	if rush {
		if info.RushInstruction == nil || info.RushDeliveryTime == nil {
			logger.Warn("incomplete rush info")
			return nil, fmt.Errorf("%s: %w", op, ErrRushInfoInvalid)
		}
		if info.ProvinceCode != RushProvinceCode {
			logger.Warn("province not serviceable", slog.String("province", info.ProvinceCode))
			return nil, fmt.Errorf("%s: province %s: %w", op, info.ProvinceCode, ErrProvinceNotServiceable)
		}
	} else if info.RushInstruction != nil || info.RushDeliveryTime != nil {
		// обычная доставка не несёт rush-полей
		return nil, fmt.Errorf("%s: %w", op, ErrRushInfoInvalid)
	}

	items, err := s.lineItemRepo.FindLineItemsWithProduct(ctx, orderID)
	if err != nil {
		logger.Error("failed to get line items", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get line items: %w", op, err)
	}

	result := &DeliveryResult{}
	if rush {
		// помечаем только позиции, реально присутствующие в заказе
		matching := lo.Filter(productIDs, func(id int64, _ int) bool {
			return lo.ContainsBy(items, func(item *models.LineItemWithProduct) bool {
				return item.ProductID == id
			})
		})
		if len(matching) == 0 {
			logger.Warn("no matching line items for rush products")
			return nil, fmt.Errorf("%s: %w", op, ErrNoMatchingLineItems)
		}
		affected, err := s.lineItemRepo.SetRushFlags(ctx, orderID, matching)
		if err != nil {
			logger.Error("failed to set rush flags", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to set rush flags: %w", op, err)
		}
		result.RushedItems = affected
	}

	info.OrderID = orderID
	saved, err := s.deliveryRepo.CreateDeliveryInfo(ctx, info)
	if err != nil {
		logger.Error("failed to save delivery info", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to save delivery info: %w", op, err)
	}
	result.Info = saved

	// сумма заказа: цены без НДС, НДС применяется один раз здесь
	var net int64
	feeItems := make([]fee.Item, 0, len(items))
	for _, item := range items {
		net += item.Product.Price * int64(item.Quantity)
		feeItems = append(feeItems, fee.Item{
			Weight:     item.Product.Weight,
			Dimensions: item.Product.Dimensions,
			Value:      item.Product.Price,
			Quantity:   item.Quantity,
		})
	}
	subtotal := fee.ApplyVAT(net)

	feeResult, err := s.feeEngine.Calculate(strategy, fee.Context{
		Items:             feeItems,
		DestinationRegion: info.ProvinceCode,
		Subtotal:          subtotal,
	})
	if err != nil {
		logger.Error("fee calculation failed", slog.Any("error", err))
		return nil, fmt.Errorf("%s: fee calculation failed: %w", op, err)
	}
	result.Fee = feeResult

	if err := s.orderRepo.UpdateAmounts(ctx, orderID, subtotal, feeResult.FinalFee); err != nil {
		logger.Error("failed to update order amounts", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to update order amounts: %w", op, err)
	}

	logger.Info("delivery info created",
		slog.Int64("subtotal", subtotal),
		slog.Int64("deliveryFee", feeResult.FinalFee),
		slog.String("strategy", feeResult.Strategy))
	return result, nil
}
