package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/linemk/media-store/internal/domain/models"
)

var ErrDeliveryInfoNotFound = errors.New("delivery info not found")

// DeliveryStorage описывает методы для работы с данными доставки.
type DeliveryStorage interface {
	CreateDeliveryInfo(ctx context.Context, info *models.DeliveryInfo) (*models.DeliveryInfo, error)
	GetByOrderID(ctx context.Context, orderID int64) (*models.DeliveryInfo, error)
	DeleteByOrderTx(ctx context.Context, tx *sql.Tx, orderID int64) error
}

type deliveryRepository struct {
	db *sql.DB
}

func NewDeliveryRepository(db *sql.DB) DeliveryStorage {
	return &deliveryRepository{db: db}
}

func (r *deliveryRepository) CreateDeliveryInfo(ctx context.Context, info *models.DeliveryInfo) (*models.DeliveryInfo, error) {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO delivery_infos (order_id, recipient_name, phone, province_code, address, rush_instruction, rush_delivery_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		info.OrderID, info.RecipientName, info.Phone, info.ProvinceCode, info.Address,
		info.RushInstruction, info.RushDeliveryTime,
	).Scan(&info.ID)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (r *deliveryRepository) GetByOrderID(ctx context.Context, orderID int64) (*models.DeliveryInfo, error) {
	info := &models.DeliveryInfo{}
	row := r.db.QueryRowContext(ctx,
		`SELECT id, order_id, recipient_name, phone, province_code, address, rush_instruction, rush_delivery_time
		 FROM delivery_infos WHERE order_id = $1`, orderID)
	if err := row.Scan(&info.ID, &info.OrderID, &info.RecipientName, &info.Phone,
		&info.ProvinceCode, &info.Address, &info.RushInstruction, &info.RushDeliveryTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeliveryInfoNotFound
		}
		return nil, err
	}
	return info, nil
}

func (r *deliveryRepository) DeleteByOrderTx(ctx context.Context, tx *sql.Tx, orderID int64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM delivery_infos WHERE order_id = $1", orderID)
	return err
}
