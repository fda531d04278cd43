package storage

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/linemk/media-store/internal/domain/models"
)

// LineItemStorage описывает методы для работы с позициями заказа.
type LineItemStorage interface {
	// CreateLineItemsTx вставляет позиции заказа пакетно внутри транзакции.
	CreateLineItemsTx(ctx context.Context, tx *sql.Tx, items []*models.OrderLineItem) error
	GetLineItemsTx(ctx context.Context, tx *sql.Tx, orderID int64) ([]*models.OrderLineItem, error)
	// FindLineItemsWithProduct возвращает позиции заказа вместе с товаром
	// (остаток, цена, вес, габариты) — контракт внешнего сервиса товаров.
	FindLineItemsWithProduct(ctx context.Context, orderID int64) ([]*models.LineItemWithProduct, error)
	// SetRushFlags помечает is_rush позиции заказа с указанными товарами одним пакетом;
	// возвращает число затронутых строк.
	SetRushFlags(ctx context.Context, orderID int64, productIDs []int64) (int64, error)
	DeleteByOrderTx(ctx context.Context, tx *sql.Tx, orderID int64) error
}

type lineItemRepository struct {
	db *sql.DB
}

func NewLineItemRepository(db *sql.DB) LineItemStorage {
	return &lineItemRepository{db: db}
}

func (r *lineItemRepository) CreateLineItemsTx(ctx context.Context, tx *sql.Tx, items []*models.OrderLineItem) error {
	query := `INSERT INTO order_line_items (order_id, product_id, quantity, is_rush)
	          VALUES ($1, $2, $3, $4) RETURNING id`
	for _, item := range items {
		if err := tx.QueryRowContext(ctx, query,
			item.OrderID, item.ProductID, item.Quantity, item.IsRush).Scan(&item.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *lineItemRepository) GetLineItemsTx(ctx context.Context, tx *sql.Tx, orderID int64) ([]*models.OrderLineItem, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, is_rush
		 FROM order_line_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.OrderLineItem
	for rows.Next() {
		item := &models.OrderLineItem{}
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.IsRush); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *lineItemRepository) FindLineItemsWithProduct(ctx context.Context, orderID int64) ([]*models.LineItemWithProduct, error) {
	query := `
		SELECT li.id, li.order_id, li.product_id, li.quantity, li.is_rush,
		       p.id, p.title, p.price, p.weight, p.dimensions, p.stock, p.rush_eligible
		FROM order_line_items li
		JOIN products p ON li.product_id = p.id
		WHERE li.order_id = $1
		ORDER BY li.id`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.LineItemWithProduct
	for rows.Next() {
		item := &models.LineItemWithProduct{}
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.IsRush,
			&item.Product.ID, &item.Product.Title, &item.Product.Price, &item.Product.Weight,
			&item.Product.Dimensions, &item.Product.Stock, &item.Product.RushEligible,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *lineItemRepository) SetRushFlags(ctx context.Context, orderID int64, productIDs []int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE order_line_items SET is_rush = TRUE WHERE order_id = $1 AND product_id = ANY($2)",
		orderID, pq.Array(productIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *lineItemRepository) DeleteByOrderTx(ctx context.Context, tx *sql.Tx, orderID int64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM order_line_items WHERE order_id = $1", orderID)
	return err
}
