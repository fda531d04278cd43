// Package gateway — абстракция внешних платёжных провайдеров.
// Один контракт ProcessPayment, конкретный шлюз выбирается реестром по имени метода.
package gateway

import (
	"context"
	"fmt"

	"github.com/linemk/media-store/internal/domain/models"
)

// ResponseType — как клиент должен использовать полученный URL
type ResponseType string

const (
	ResponseRedirect ResponseType = "REDIRECT"
	ResponseQRImage  ResponseType = "QR_IMAGE"
	ResponseQRData   ResponseType = "QR_DATA"
)

// PaymentURL — результат инициализации платежа у провайдера
type PaymentURL struct {
	URL          string       `json:"payment_url"`
	ResponseType ResponseType `json:"response_type"`
}

// PaymentData — свободные данные платежа от клиента
type PaymentData struct {
	Description string
}

// Gateway — один внешний платёжный провайдер.
// Исходящие вызовы сетевые: ограниченные таймауты, никогда не внутри транзакции БД.
type Gateway interface {
	MethodName() string
	ProcessPayment(ctx context.Context, clientIP string, order *models.Order, data PaymentData) (*PaymentURL, error)
}

// Error оборачивает сбой внешнего шлюза: имя шлюза и сырой ответ для диагностики.
// Наружу не выходит ни одно сырое сетевое исключение.
type Error struct {
	Gateway string
	Raw     string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Gateway, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry — реестр шлюзов, собирается один раз на старте.
type Registry struct {
	gateways map[string]Gateway
	primary  Gateway
}

// NewRegistry регистрирует шлюзы; primary используется при неизвестном методе
func NewRegistry(primary Gateway, others ...Gateway) *Registry {
	r := &Registry{
		gateways: map[string]Gateway{primary.MethodName(): primary},
		primary:  primary,
	}
	for _, g := range others {
		r.gateways[g.MethodName()] = g
	}
	return r
}

// Resolve возвращает шлюз по имени метода, по умолчанию — primary
func (r *Registry) Resolve(method string) Gateway {
	if g, ok := r.gateways[method]; ok {
		return g
	}
	return r.primary
}
