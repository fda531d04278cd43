package models

// Cart — корзина; владелец нужен для проверки прав при отмене заказа
type Cart struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`
}

// CartItem — позиция корзины
type CartItem struct {
	CartID    int64 `json:"cart_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}
