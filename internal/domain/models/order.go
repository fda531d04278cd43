package models

import "time"

// OrderStatus — статус заказа, переходы строго по конечному автомату:
// PLACING -> PENDING -> {ACCEPTED, REJECTED} -> COMPLETED,
// плюс CANCELLED_BY_USER из PLACING или PENDING.
type OrderStatus string

const (
	OrderStatusPlacing         OrderStatus = "PLACING"
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusCancelledByUser OrderStatus = "CANCELLED_BY_USER"
)

// Order представляет заказ; суммы в VND.
// Subtotal и DeliveryFee ненулевые только после расчёта доставки.
type Order struct {
	ID          int64       `json:"id"`
	CartID      int64       `json:"cart_id"`
	Status      OrderStatus `json:"status"`
	Subtotal    int64       `json:"subtotal"`
	DeliveryFee int64       `json:"delivery_fee"`
	AcceptDate  *time.Time  `json:"accept_date,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// OrderLineItem — позиция заказа, скопированная из корзины
type OrderLineItem struct {
	ID        int64 `json:"id"`
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	IsRush    bool  `json:"is_rush"`
}

// LineItemWithProduct — позиция заказа вместе с товаром; заполняется через JOIN с таблицей products
type LineItemWithProduct struct {
	OrderLineItem
	Product Product `json:"product"`
}
