package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/linemk/media-store/internal/config"
	"github.com/linemk/media-store/internal/domain/models"
	"github.com/linemk/media-store/internal/payment/gateway"
	"github.com/linemk/media-store/internal/service"
)

// PaymentRequest — запрос на создание платёжной ссылки.
type PaymentRequest struct {
	Method      string `json:"method,omitempty"`
	Description string `json:"description,omitempty"`
}

// clientIP возвращает адрес покупателя без порта; за прокси берётся первый
// адрес из X-Forwarded-For.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CreatePaymentHandler обрабатывает запрос POST /api/orders/{orderID}/payment.
// Пустой method означает шлюз по умолчанию.
func CreatePaymentHandler(log *slog.Logger, paymentService service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreatePaymentHandler"
		logger := log.With(slog.String("op", op))

		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		var req PaymentRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				logger.Error("invalid request: decoding error", slog.Any("error", err))
				http.Error(w, "invalid request", http.StatusBadRequest)
				return
			}
		}

		url, err := paymentService.CreatePaymentURL(r.Context(), orderID, req.Method, req.Description, clientIP(r))
		if err != nil {
			logger.Error("failed to create payment url", slog.Any("error", err))
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusCreated, url)
	}
}

// PayHubReturnHandler обрабатывает запрос GET /api/payments/payhub/return.
// Сюда провайдер возвращает покупателя после одобрения; token — идентификатор
// заказа на стороне провайдера, по нему выполняется capture.
func PayHubReturnHandler(
	log *slog.Logger,
	payhub *gateway.PayHub,
	reconciler service.ReconcileService,
	cfg config.PayHubConfig,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.PayHubReturnHandler"
		logger := log.With(slog.String("op", op))

		orderID, err := strconv.ParseInt(r.URL.Query().Get("orderId"), 10, 64)
		if err != nil || orderID <= 0 {
			logger.Error("invalid orderId in return url", slog.String("orderId", r.URL.Query().Get("orderId")))
			http.Error(w, "invalid orderId", http.StatusBadRequest)
			return
		}
		remoteOrderID := r.URL.Query().Get("token")
		if remoteOrderID == "" {
			logger.Error("token parameter is missing")
			http.Error(w, "token parameter is required", http.StatusBadRequest)
			return
		}
		logger = logger.With(slog.Int64("orderID", orderID))

		captureStatus, raw, err := payhub.Capture(r.Context(), remoteOrderID)
		if err != nil {
			// Capture не прошёл — считаем платёж неуспешным, но исход всё равно
			// фиксируем, чтобы транзакция не зависла в PENDING
			logger.Error("capture failed", slog.Any("error", err))
			captureStatus = ""
			raw = err.Error()
		}

		status := models.PaymentStatusFailed
		if captureStatus == "COMPLETED" {
			status = models.PaymentStatusSuccess
		}

		// ответ capture не содержит банка плательщика, counterpart остаётся пустым
		if err := reconciler.UpdateStatus(r.Context(), orderID, status, "", raw); err != nil {
			// покупателя всё равно уводим на страницу результата, а не в JSON-ошибку
			logger.Error("failed to reconcile payment", slog.Any("error", err))
			http.Redirect(w, r, cfg.FailureURL, http.StatusFound)
			return
		}

		target := cfg.FailureURL
		if status == models.PaymentStatusSuccess {
			target = cfg.SuccessURL
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// qrpayWebhookRequest — уведомление провайдера об исходе QR-платежа.
// Content содержит референс вида MSO<orderID>, проставленный при генерации QR.
type qrpayWebhookRequest struct {
	TransactionID string `json:"transactionId"`
	Content       string `json:"content"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
	BankName      string `json:"bankName"`
}

// qrpayWebhookResponse — конверт ответа, который ожидает провайдер.
type qrpayWebhookResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var paymentRefPattern = regexp.MustCompile(`MSO(\d+)`)

// QRPayWebhookHandler обрабатывает запрос POST /api/payments/qrpay/webhook.
// Провайдер аутентифицируется basic auth-ом; ответ всегда в конверте провайдера,
// код "00" — принято, иначе — отказ.
func QRPayWebhookHandler(
	log *slog.Logger,
	reconciler service.ReconcileService,
	cfg config.QRPayConfig,
) http.HandlerFunc {
	writeEnvelope := func(w http.ResponseWriter, logger *slog.Logger, httpStatus int, code, message string) {
		writeJSON(w, logger, httpStatus, qrpayWebhookResponse{Code: code, Message: message})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.QRPayWebhookHandler"
		logger := log.With(slog.String("op", op))

		user, pass, ok := r.BasicAuth()
		if !ok || user != cfg.WebhookUser ||
			bcrypt.CompareHashAndPassword([]byte(cfg.WebhookPassHash), []byte(pass)) != nil {
			logger.Error("webhook authentication failed")
			writeEnvelope(w, logger, http.StatusUnauthorized, "97", "authentication failed")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Error("failed to read webhook body", slog.Any("error", err))
			writeEnvelope(w, logger, http.StatusBadRequest, "96", "unreadable body")
			return
		}

		var req qrpayWebhookRequest
		if err := json.Unmarshal(body, &req); err != nil {
			logger.Error("invalid webhook payload", slog.Any("error", err))
			writeEnvelope(w, logger, http.StatusBadRequest, "96", "invalid payload")
			return
		}

		match := paymentRefPattern.FindStringSubmatch(req.Content)
		if match == nil {
			logger.Error("payment reference not found in content", slog.String("content", req.Content))
			writeEnvelope(w, logger, http.StatusBadRequest, "95", "payment reference not found")
			return
		}
		orderID, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			logger.Error("invalid payment reference", slog.String("reference", match[0]))
			writeEnvelope(w, logger, http.StatusBadRequest, "95", "invalid payment reference")
			return
		}
		logger = logger.With(slog.Int64("orderID", orderID))

		status := models.PaymentStatusFailed
		if req.Status == "SUCCESS" {
			status = models.PaymentStatusSuccess
		}

		if err := reconciler.UpdateStatus(r.Context(), orderID, status, req.BankName, string(body)); err != nil {
			logger.Error("failed to reconcile payment", slog.Any("error", err))
			writeEnvelope(w, logger, http.StatusInternalServerError, "99", "processing failed")
			return
		}

		writeEnvelope(w, logger, http.StatusOK, "00", "accepted")
	}
}
