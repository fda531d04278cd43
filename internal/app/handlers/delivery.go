package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/linemk/media-store/internal/domain/models"
	"github.com/linemk/media-store/internal/service"
)

// DeliveryRequest — данные доставки заказа. Rush-поля задаются оба или ни одного;
// rush_product_ids выбирает, какие позиции заказа везти срочно.
type DeliveryRequest struct {
	RecipientName    string     `json:"recipient_name" validate:"required"`
	Phone            string     `json:"phone" validate:"required"`
	ProvinceCode     string     `json:"province_code" validate:"required"`
	Address          string     `json:"address" validate:"required"`
	RushInstruction  *string    `json:"rush_instruction,omitempty"`
	RushDeliveryTime *time.Time `json:"rush_delivery_time,omitempty"`
	RushProductIDs   []int64    `json:"rush_product_ids,omitempty"`
	FeeStrategy      string     `json:"fee_strategy,omitempty"`
}

// CreateDeliveryHandler обрабатывает запрос POST /api/orders/{orderID}/delivery.
// Считает стоимость доставки выбранной стратегией и фиксирует суммы заказа.
func CreateDeliveryHandler(log *slog.Logger, deliveryService service.DeliveryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreateDeliveryHandler"
		logger := log.With(slog.String("op", op))

		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		var req DeliveryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("validation error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		info := &models.DeliveryInfo{
			OrderID:          orderID,
			RecipientName:    req.RecipientName,
			Phone:            req.Phone,
			ProvinceCode:     req.ProvinceCode,
			Address:          req.Address,
			RushInstruction:  req.RushInstruction,
			RushDeliveryTime: req.RushDeliveryTime,
		}

		result, err := deliveryService.CreateDelivery(r.Context(), orderID, info, req.RushProductIDs, req.FeeStrategy)
		if err != nil {
			logger.Error("failed to create delivery", slog.Any("error", err))
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusCreated, result)
	}
}
