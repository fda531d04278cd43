package service

import (
	"errors"
	"fmt"
)

var (
	ErrCartEmpty              = errors.New("cart has no matching items")
	ErrInvalidTransition      = errors.New("invalid order status transition")
	ErrNotOrderOwner          = errors.New("requester does not own the order")
	ErrRushInfoInvalid        = errors.New("rush delivery requires both instruction and delivery time")
	ErrProvinceNotServiceable = errors.New("province is outside the rush delivery zone")
	ErrNoMatchingLineItems    = errors.New("no order line items match the given products")
)

// StockShortfall — нехватка по одному товару
type StockShortfall struct {
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError — нехватка остатков с разбивкой по товарам.
// Проверяется и при создании заказа, и повторно при его подтверждении:
// остатки могли уйти в другие заказы.
type InsufficientStockError struct {
	Shortfalls []StockShortfall
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %d product(s)", len(e.Shortfalls))
}
