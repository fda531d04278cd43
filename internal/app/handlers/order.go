package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/linemk/media-store/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/media-store/internal/service"
)

var validate = validator.New()

// CreateOrderRequest — входной JSON для оформления заказа из корзины.
// Пустой product_ids означает «вся корзина».
type CreateOrderRequest struct {
	CartID     int64   `json:"cart_id" validate:"required,gt=0"`
	ProductIDs []int64 `json:"product_ids"`
}

// CreateOrderHandler обрабатывает запрос POST /api/orders
func CreateOrderHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreateOrderHandler"
		logger := log.With(slog.String("op", op))

		var req CreateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		// Валидация структуры запроса с использованием validator
		if err := validate.Struct(req); err != nil {
			logger.Error("validation error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		result, err := orderService.Create(r.Context(), req.CartID, req.ProductIDs)
		if err != nil {
			logger.Error("failed to create order", slog.Any("error", err))
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusCreated, result)
	}
}

// CheckStockHandler обрабатывает запрос POST /api/orders/{orderID}/check-stock.
// На нехватку отвечает 400 со списком дефицитных позиций.
func CheckStockHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CheckStockHandler"
		logger := log.With(slog.String("op", op))

		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		if err := orderService.CheckStock(r.Context(), orderID); err != nil {
			logger.Error("stock check failed", slog.Any("error", err))
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusOK, map[string]string{"message": "all line items are in stock"})
	}
}

// DecisionRequest — решение менеджера по заказу.
type DecisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
}

// DecisionHandler обрабатывает запрос POST /api/orders/{orderID}/decision.
// Доступ только для роли manager (ограничивается middleware на роуте).
func DecisionHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.DecisionHandler"
		logger := log.With(slog.String("op", op))

		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		var req DecisionRequest
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

		if err := orderService.ApproveOrReject(r.Context(), orderID, req.Decision == "approve"); err != nil {
			logger.Error("failed to apply decision", slog.Any("error", err))
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusOK, map[string]string{"message": "decision applied"})
	}
}

// CancelOrderHandler обрабатывает запрос POST /api/orders/{orderID}/cancel.
// Отменить заказ может только его владелец.
func CancelOrderHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CancelOrderHandler"
		logger := log.With(slog.String("op", op))

		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		// Извлекаем userID из контекста (установленный JWT middleware)
		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if err := orderService.Cancel(r.Context(), orderID, userID); err != nil {
			logger.Error("failed to cancel order", slog.Any("error", err))
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusOK, map[string]string{"message": "order cancelled"})
	}
}

// RemoveOrderHandler обрабатывает запрос DELETE /api/orders/{orderID}.
// Удаление идемпотентно: повторный вызов тоже отвечает 200.
func RemoveOrderHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.RemoveOrderHandler"
		logger := log.With(slog.String("op", op))

		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		if err := orderService.Remove(r.Context(), orderID); err != nil {
			logger.Error("failed to remove order", slog.Any("error", err))
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusOK, map[string]string{"message": "order removed"})
	}
}

// orderIDParam извлекает orderID из URL; при ошибке сам пишет ответ.
func orderIDParam(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (int64, bool) {
	raw := chi.URLParam(r, "orderID")
	orderID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || orderID <= 0 {
		logger.Error("invalid orderID parameter", slog.String("orderID", raw))
		http.Error(w, "invalid orderID", http.StatusBadRequest)
		return 0, false
	}
	return orderID, true
}
