package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/linemk/media-store/internal/domain/models"
)

var (
	ErrTransactionNotFound = errors.New("payment transaction not found")
	// ErrDuplicatePendingPayment — нарушение инварианта "не больше одной
	// PENDING-транзакции на заказ"; обеспечивается частичным уникальным индексом.
	ErrDuplicatePendingPayment = errors.New("order already has a pending payment")
)

// PaymentStorage описывает методы для работы с платёжными транзакциями.
type PaymentStorage interface {
	CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) (*models.PaymentTransaction, error)
	HasPendingByOrderID(ctx context.Context, orderID int64) (bool, error)
	// LockByOrderIDTx возвращает последнюю транзакцию заказа, блокируя строку (FOR UPDATE).
	LockByOrderIDTx(ctx context.Context, tx *sql.Tx, orderID int64) (*models.PaymentTransaction, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.PaymentStatus, counterpart, gatewayResponse string) error
	DeleteByOrderTx(ctx context.Context, tx *sql.Tx, orderID int64) error
}

type paymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) PaymentStorage {
	return &paymentRepository{db: db}
}

const paymentColumns = "id, txn_ref, order_id, method, counterpart, content, status, gateway_response, created_at"

func (r *paymentRepository) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) (*models.PaymentTransaction, error) {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO payment_transactions (txn_ref, order_id, method, counterpart, content, status, gateway_response, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) RETURNING id, created_at`,
		txn.TxnRef, txn.OrderID, txn.Method, txn.Counterpart, txn.Content, txn.Status, txn.GatewayResponse,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" { // unique_violation: частичный индекс по PENDING
				return nil, ErrDuplicatePendingPayment
			}
		}
		return nil, err
	}
	return txn, nil
}

func (r *paymentRepository) HasPendingByOrderID(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM payment_transactions WHERE order_id = $1 AND status = $2)",
		orderID, models.PaymentStatusPending,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *paymentRepository) LockByOrderIDTx(ctx context.Context, tx *sql.Tx, orderID int64) (*models.PaymentTransaction, error) {
	txn := &models.PaymentTransaction{}
	row := tx.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payment_transactions WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1 FOR UPDATE",
		orderID)
	if err := row.Scan(&txn.ID, &txn.TxnRef, &txn.OrderID, &txn.Method, &txn.Counterpart,
		&txn.Content, &txn.Status, &txn.GatewayResponse, &txn.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return txn, nil
}

func (r *paymentRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.PaymentStatus, counterpart, gatewayResponse string) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE payment_transactions SET status = $1, counterpart = $2, gateway_response = $3 WHERE id = $4",
		status, counterpart, gatewayResponse, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *paymentRepository) DeleteByOrderTx(ctx context.Context, tx *sql.Tx, orderID int64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM payment_transactions WHERE order_id = $1", orderID)
	return err
}
