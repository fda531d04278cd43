package models

import "time"

// DeliveryInfo — данные доставки, один к одному с заказом, после создания не меняются.
// RushInstruction и RushDeliveryTime заполняются оба и только для rush-заказов.
type DeliveryInfo struct {
	ID               int64      `json:"id"`
	OrderID          int64      `json:"order_id"`
	RecipientName    string     `json:"recipient_name"`
	Phone            string     `json:"phone"`
	ProvinceCode     string     `json:"province_code"`
	Address          string     `json:"address"`
	RushInstruction  *string    `json:"rush_instruction,omitempty"`
	RushDeliveryTime *time.Time `json:"rush_delivery_time,omitempty"`
}

// IsRush — заказ считается rush, если заданы инструкция и время доставки
func (d *DeliveryInfo) IsRush() bool {
	return d.RushInstruction != nil || d.RushDeliveryTime != nil
}
