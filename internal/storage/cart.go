package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/linemk/media-store/internal/domain/models"
)

var ErrCartNotFound = errors.New("cart not found")

// CartStorage описывает методы для работы с корзинами.
// Сервис корзины внешний, здесь только чтение для оформления заказа и проверки владельца.
type CartStorage interface {
	GetCartByID(ctx context.Context, id int64) (*models.Cart, error)
	GetCartItems(ctx context.Context, cartID int64) ([]*models.CartItem, error)
}

type cartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) CartStorage {
	return &cartRepository{db: db}
}

func (r *cartRepository) GetCartByID(ctx context.Context, id int64) (*models.Cart, error) {
	cart := &models.Cart{}
	row := r.db.QueryRowContext(ctx, "SELECT id, user_id FROM carts WHERE id = $1", id)
	if err := row.Scan(&cart.ID, &cart.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, err
	}
	return cart, nil
}

func (r *cartRepository) GetCartItems(ctx context.Context, cartID int64) ([]*models.CartItem, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT cart_id, product_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY product_id", cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.CartItem
	for rows.Next() {
		item := &models.CartItem{}
		if err := rows.Scan(&item.CartID, &item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
