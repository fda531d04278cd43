package models

import "time"

// PaymentStatus — статус платёжной транзакции
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// PaymentTransaction — попытка оплаты заказа. Никогда не удаляется после
// успешной оплаты (финансовый аудит); меняет статус только реконсилиация.
// На заказ допускается не больше одной транзакции в статусе PENDING.
type PaymentTransaction struct {
	ID              int64         `json:"id"`
	TxnRef          string        `json:"txn_ref"` // глобально уникальный непрозрачный идентификатор
	OrderID         int64         `json:"order_id"`
	Method          string        `json:"method"`
	Counterpart     string        `json:"counterpart"` // банк/кошелёк контрагента
	Content         string        `json:"content"`
	Status          PaymentStatus `json:"status"`
	GatewayResponse string        `json:"gateway_response"` // сырой ответ шлюза, для разбора инцидентов
	CreatedAt       time.Time     `json:"created_at"`
}
