package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linemk/media-store/internal/config"
	"github.com/linemk/media-store/internal/domain/models"
	"github.com/shopspring/decimal"
)

const MethodPayHub = "PAYHUB"

// PayHub — redirect-шлюз. Схема: обмен client credentials на bearer-токен,
// создание платёжной сессии в USD (конвертация из VND по фиксированному курсу),
// пользователь одобряет платёж по approve-ссылке, после возврата платёж
// добирается вторым вызовом Capture.
type PayHub struct {
	cfg        config.PayHubConfig
	httpClient *http.Client
}

func NewPayHub(cfg config.PayHubConfig) *PayHub {
	return &PayHub{
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

func (h *PayHub) MethodName() string { return MethodPayHub }

type payhubTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type payhubOrderRequest struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []payhubPurchaseUnit `json:"purchase_units"`
	AppContext    payhubAppContext     `json:"application_context"`
}

type payhubPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	Amount      payhubAmount `json:"amount"`
}

type payhubAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type payhubAppContext struct {
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

type payhubOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

// token обменивает client credentials на bearer-токен
func (h *PayHub) token(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(h.cfg.ClientID, h.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tokenResp payhubTokenResponse
	if err := h.do(req, &tokenResp); err != nil {
		return "", err
	}
	if tokenResp.AccessToken == "" {
		return "", &Error{Gateway: MethodPayHub, Err: fmt.Errorf("empty access token")}
	}
	return tokenResp.AccessToken, nil
}

func (h *PayHub) ProcessPayment(ctx context.Context, clientIP string, order *models.Order, data PaymentData) (*PaymentURL, error) {
	token, err := h.token(ctx)
	if err != nil {
		return nil, err
	}

	// конвертация VND -> USD по фиксированному курсу, два знака после запятой
	totalVND := decimal.NewFromInt(order.Subtotal + order.DeliveryFee)
	totalUSD := totalVND.Div(decimal.NewFromInt(h.cfg.USDRate)).Round(2)

	body := payhubOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []payhubPurchaseUnit{{
			ReferenceID: fmt.Sprintf("MSO%d", order.ID),
			Amount:      payhubAmount{CurrencyCode: "USD", Value: totalUSD.StringFixed(2)},
		}},
		AppContext: payhubAppContext{
			ReturnURL: fmt.Sprintf("%s?orderId=%d", h.cfg.ReturnURL, order.ID),
			CancelURL: h.cfg.FailureURL,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.cfg.BaseURL+"/v2/checkout/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var orderResp payhubOrderResponse
	if err := h.do(req, &orderResp); err != nil {
		return nil, err
	}

	for _, link := range orderResp.Links {
		if link.Rel == "approve" {
			return &PaymentURL{URL: link.Href, ResponseType: ResponseRedirect}, nil
		}
	}
	return nil, &Error{Gateway: MethodPayHub, Err: fmt.Errorf("no approve link in response")}
}

type payhubCaptureResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Capture добирает одобренный платёж после возврата пользователя.
// Возвращает статус провайдера и сырое тело ответа для аудита.
func (h *PayHub) Capture(ctx context.Context, remoteOrderID string) (string, string, error) {
	token, err := h.token(ctx)
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v2/checkout/orders/%s/capture", h.cfg.BaseURL, url.PathEscape(remoteOrderID)), nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", "", &Error{Gateway: MethodPayHub, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", &Error{Gateway: MethodPayHub, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", string(raw), &Error{Gateway: MethodPayHub, Raw: string(raw),
			Err: fmt.Errorf("capture failed with status: %d", resp.StatusCode)}
	}

	var captureResp payhubCaptureResponse
	if err := json.Unmarshal(raw, &captureResp); err != nil {
		return "", string(raw), &Error{Gateway: MethodPayHub, Raw: string(raw), Err: err}
	}
	return captureResp.Status, string(raw), nil
}

// do выполняет запрос и декодирует ответ; сетевые и статусные ошибки
// оборачиваются в gateway.Error
func (h *PayHub) do(req *http.Request, out interface{}) error {
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return &Error{Gateway: MethodPayHub, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Gateway: MethodPayHub, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &Error{Gateway: MethodPayHub, Raw: string(raw),
			Err: fmt.Errorf("request failed with status: %d", resp.StatusCode)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Gateway: MethodPayHub, Raw: string(raw), Err: err}
	}
	return nil
}
