package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linemk/media-store/internal/config"
	"github.com/linemk/media-store/internal/domain/models"
)

const MethodQRPay = "QRPAY"

// QRPay — QR-шлюз банковского перевода. Схема: аутентификация мерчанта,
// запрос QR-кода с коротким референсом "MSO<orderID>" в назначении платежа.
// Подтверждение оплаты приходит не редиректом, а входящим webhook-ом провайдера.
type QRPay struct {
	cfg        config.QRPayConfig
	httpClient *http.Client
}

func NewQRPay(cfg config.QRPayConfig) *QRPay {
	return &QRPay{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (q *QRPay) MethodName() string { return MethodQRPay }

type qrpayTokenRequest struct {
	MerchantCode string `json:"merchantCode"`
	Secret       string `json:"secret"`
}

type qrpayTokenResponse struct {
	Token string `json:"token"`
}

type qrpayGenerateRequest struct {
	MerchantCode string `json:"merchantCode"`
	Amount       int64  `json:"amount"`
	Content      string `json:"content"`
	IPAddress    string `json:"ipAddress"`
}

type qrpayGenerateResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		QRLink string `json:"qrLink"` // готовая ссылка на страницу с QR
		QRCode string `json:"qrCode"` // идентификатор QR для сборки URL картинки
	} `json:"data"`
}

// PaymentReference — референс, который провайдер вернёт в webhook-е
func PaymentReference(orderID int64) string {
	return fmt.Sprintf("MSO%d", orderID)
}

func (q *QRPay) ProcessPayment(ctx context.Context, clientIP string, order *models.Order, data PaymentData) (*PaymentURL, error) {
	token, err := q.token(ctx)
	if err != nil {
		return nil, err
	}

	content := PaymentReference(order.ID)
	if data.Description != "" {
		content += " " + data.Description
	}
	body := qrpayGenerateRequest{
		MerchantCode: q.cfg.MerchantCode,
		Amount:       order.Subtotal + order.DeliveryFee,
		Content:      content,
		IPAddress:    clientIP,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		q.cfg.BaseURL+"/api/qr/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var genResp qrpayGenerateResponse
	if err := q.do(req, &genResp); err != nil {
		return nil, err
	}
	if genResp.Code != "00" {
		return nil, &Error{Gateway: MethodQRPay, Raw: genResp.Message,
			Err: fmt.Errorf("qr generation rejected with code %s", genResp.Code)}
	}

	// провайдер возвращает либо готовую ссылку, либо идентификатор,
	// из которого собирается URL картинки
	if genResp.Data.QRLink != "" {
		return &PaymentURL{URL: genResp.Data.QRLink, ResponseType: ResponseQRData}, nil
	}
	if genResp.Data.QRCode != "" {
		return &PaymentURL{
			URL:          fmt.Sprintf("%s/api/qr/image/%s", q.cfg.BaseURL, genResp.Data.QRCode),
			ResponseType: ResponseQRImage,
		}, nil
	}
	return nil, &Error{Gateway: MethodQRPay, Err: fmt.Errorf("empty qr payload in response")}
}

func (q *QRPay) token(ctx context.Context) (string, error) {
	payload, err := json.Marshal(qrpayTokenRequest{
		MerchantCode: q.cfg.MerchantCode,
		Secret:       q.cfg.Secret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		q.cfg.BaseURL+"/api/token", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var tokenResp qrpayTokenResponse
	if err := q.do(req, &tokenResp); err != nil {
		return "", err
	}
	if tokenResp.Token == "" {
		return "", &Error{Gateway: MethodQRPay, Err: fmt.Errorf("empty token")}
	}
	return tokenResp.Token, nil
}

func (q *QRPay) do(req *http.Request, out interface{}) error {
	resp, err := q.httpClient.Do(req)
	if err != nil {
		return &Error{Gateway: MethodQRPay, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Gateway: MethodQRPay, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{Gateway: MethodQRPay, Raw: string(raw),
			Err: fmt.Errorf("request failed with status: %d", resp.StatusCode)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Gateway: MethodQRPay, Raw: string(raw), Err: err}
	}
	return nil
}
