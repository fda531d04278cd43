// Package notify публикует события заказа в kafka; письма клиентам
// отправляет отдельный консьюмер вне этого сервиса.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/linemk/media-store/internal/domain/models"
	"github.com/segmentio/kafka-go"
)

const (
	EventOrderConfirmed = "order.confirmation"
	EventOrderCancelled = "order.cancellation"
)

// OrderEvent — событие жизненного цикла заказа для почтового консьюмера
type OrderEvent struct {
	Type        string             `json:"type"`
	OrderID     int64              `json:"order_id"`
	OrderStatus models.OrderStatus `json:"order_status"`
	Subtotal    int64              `json:"subtotal"`
	DeliveryFee int64              `json:"delivery_fee"`
	TxnRef      string             `json:"txn_ref,omitempty"`
	Method      string             `json:"method,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

type KafkaNotifier struct {
	log    *slog.Logger
	writer *kafka.Writer
}

func NewKafkaNotifier(log *slog.Logger, brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		log: log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (n *KafkaNotifier) OrderConfirmed(ctx context.Context, order *models.Order, txn *models.PaymentTransaction) error {
	return n.publish(ctx, OrderEvent{
		Type:        EventOrderConfirmed,
		OrderID:     order.ID,
		OrderStatus: order.Status,
		Subtotal:    order.Subtotal,
		DeliveryFee: order.DeliveryFee,
		TxnRef:      txn.TxnRef,
		Method:      txn.Method,
		OccurredAt:  time.Now(),
	})
}

func (n *KafkaNotifier) OrderCancelled(ctx context.Context, order *models.Order) error {
	return n.publish(ctx, OrderEvent{
		Type:        EventOrderCancelled,
		OrderID:     order.ID,
		OrderStatus: order.Status,
		Subtotal:    order.Subtotal,
		DeliveryFee: order.DeliveryFee,
		OccurredAt:  time.Now(),
	})
}

// publish сериализует событие и пишет в топик; ключ — id заказа,
// чтобы события одного заказа шли в одну партицию по порядку
func (n *KafkaNotifier) publish(ctx context.Context, event OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.OrderID, 10)),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("kafka: write failed: %w", err)
	}

	n.log.Debug("order event published",
		slog.String("type", event.Type), slog.Int64("orderID", event.OrderID))
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// NopNotifier — заглушка для окружений без kafka; события только логируются
type NopNotifier struct {
	log *slog.Logger
}

func NewNopNotifier(log *slog.Logger) *NopNotifier {
	return &NopNotifier{log: log}
}

func (n *NopNotifier) OrderConfirmed(_ context.Context, order *models.Order, txn *models.PaymentTransaction) error {
	n.log.Info("order confirmation (kafka disabled)",
		slog.Int64("orderID", order.ID), slog.String("txnRef", txn.TxnRef))
	return nil
}

func (n *NopNotifier) OrderCancelled(_ context.Context, order *models.Order) error {
	n.log.Info("order cancellation (kafka disabled)", slog.Int64("orderID", order.ID))
	return nil
}
