package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/linemk/media-store/internal/payment/gateway"
	"github.com/linemk/media-store/internal/service"
	"github.com/linemk/media-store/internal/service/fee"
	"github.com/linemk/media-store/internal/storage"
)

// ErrorResponse — тело ошибки со стабильным машинным кодом
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// writeJSON отправляет ответ в JSON
func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("failed to encode response", slog.Any("error", err))
	}
}

// writeError переводит ошибку сервиса в HTTP-статус и стабильный код.
// Валидационные и конфликтные ошибки детектируются до мутаций, поэтому
// их можно безопасно отдавать синхронно.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var stockErr *service.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeJSON(w, log, http.StatusBadRequest, ErrorResponse{
			Code:    "PRODUCT_NOT_SUFFICIENT",
			Message: stockErr.Error(),
			Details: stockErr.Shortfalls,
		})
		return
	}

	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		writeJSON(w, log, http.StatusBadGateway, ErrorResponse{
			Code:    "GATEWAY_FAILURE",
			Message: gwErr.Error(),
		})
		return
	}

	switch {
	case errors.Is(err, storage.ErrOrderNotFound),
		errors.Is(err, storage.ErrCartNotFound),
		errors.Is(err, storage.ErrProductNotFound),
		errors.Is(err, storage.ErrTransactionNotFound),
		errors.Is(err, storage.ErrDeliveryInfoNotFound):
		writeJSON(w, log, http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, storage.ErrDuplicatePendingPayment):
		writeJSON(w, log, http.StatusConflict, ErrorResponse{Code: "DUPLICATE_PENDING_PAYMENT", Message: err.Error()})
	case errors.Is(err, service.ErrInvalidTransition):
		writeJSON(w, log, http.StatusConflict, ErrorResponse{Code: "INVALID_TRANSITION", Message: err.Error()})
	case errors.Is(err, service.ErrNotOrderOwner):
		writeJSON(w, log, http.StatusForbidden, ErrorResponse{Code: "NOT_ORDER_OWNER", Message: err.Error()})
	case errors.Is(err, service.ErrRushInfoInvalid):
		writeJSON(w, log, http.StatusBadRequest, ErrorResponse{Code: "RUSH_INFO_INVALID", Message: err.Error()})
	case errors.Is(err, service.ErrProvinceNotServiceable):
		writeJSON(w, log, http.StatusBadRequest, ErrorResponse{Code: "PROVINCE_NOT_SERVICEABLE", Message: err.Error()})
	case errors.Is(err, service.ErrNoMatchingLineItems):
		writeJSON(w, log, http.StatusBadRequest, ErrorResponse{Code: "NO_MATCHING_LINE_ITEMS", Message: err.Error()})
	case errors.Is(err, service.ErrCartEmpty):
		writeJSON(w, log, http.StatusBadRequest, ErrorResponse{Code: "CART_EMPTY", Message: err.Error()})
	case errors.Is(err, fee.ErrUnknownStrategy):
		writeJSON(w, log, http.StatusBadRequest, ErrorResponse{Code: "UNKNOWN_STRATEGY", Message: err.Error()})
	default:
		log.Error("internal error", slog.Any("error", err))
		writeJSON(w, log, http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: "internal server error"})
	}
}
