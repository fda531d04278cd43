package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/linemk/media-store/internal/domain/models"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderStorage описывает методы для работы с заказами.
type OrderStorage interface {
	// CreateOrderTx вставляет заказ в статусе PLACING и возвращает его id.
	CreateOrderTx(ctx context.Context, tx *sql.Tx, cartID int64) (int64, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	// LockOrderByIDTx блокирует строку заказа на время транзакции (FOR UPDATE),
	// чтобы одновременные решение менеджера, отмена и реконсилиация не теряли обновления.
	LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus) error
	// SetDecisionTx фиксирует решение менеджера: статус и accept_date одним шагом.
	SetDecisionTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, acceptDate time.Time) error
	// UpdateAmounts записывает рассчитанные subtotal и delivery_fee.
	UpdateAmounts(ctx context.Context, id int64, subtotal, deliveryFee int64) error
	// DeleteOrderTx удаляет заказ; возвращает число удалённых строк (0 — уже удалён).
	DeleteOrderTx(ctx context.Context, tx *sql.Tx, id int64) (int64, error)
}

type orderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

const orderColumns = "id, cart_id, status, subtotal, delivery_fee, accept_date, created_at"

func scanOrder(row *sql.Row) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(&o.ID, &o.CartID, &o.Status, &o.Subtotal, &o.DeliveryFee, &o.AcceptDate, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) CreateOrderTx(ctx context.Context, tx *sql.Tx, cartID int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (cart_id, status, subtotal, delivery_fee, created_at)
		 VALUES ($1, $2, 0, 0, NOW()) RETURNING id`,
		cartID, models.OrderStatusPlacing,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus) error {
	res, err := tx.ExecContext(ctx, "UPDATE orders SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) SetDecisionTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, acceptDate time.Time) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, accept_date = $2 WHERE id = $3", status, acceptDate, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) UpdateAmounts(ctx context.Context, id int64, subtotal, deliveryFee int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE orders SET subtotal = $1, delivery_fee = $2 WHERE id = $3", subtotal, deliveryFee, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) DeleteOrderTx(ctx context.Context, tx *sql.Tx, id int64) (int64, error) {
	res, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
