package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const paymentAttemptColumns = `id, order_id, merchant_request_id, checkout_request_id, phone_number, amount,
    status, mpesa_receipt_number, transaction_date, result_code, result_desc, created_at, updated_at`

func scanPaymentAttempt(row rowScanner) (PaymentAttempt, error) {
	var i PaymentAttempt
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.MerchantRequestID,
		&i.CheckoutRequestID,
		&i.PhoneNumber,
		&i.Amount,
		&i.Status,
		&i.MpesaReceiptNumber,
		&i.TransactionDate,
		&i.ResultCode,
		&i.ResultDesc,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createPaymentAttempt = `
INSERT INTO payment_attempts (order_id, merchant_request_id, checkout_request_id, phone_number, amount, status)
VALUES ($1, $2, $3, $4, $5, 'pending')
RETURNING ` + paymentAttemptColumns

type CreatePaymentAttemptParams struct {
	OrderID           uuid.UUID      `json:"order_id"`
	MerchantRequestID string         `json:"merchant_request_id"`
	CheckoutRequestID string         `json:"checkout_request_id"`
	PhoneNumber       string         `json:"phone_number"`
	Amount            pgtype.Numeric `json:"amount"`
}

func (q *Queries) CreatePaymentAttempt(ctx context.Context, arg CreatePaymentAttemptParams) (PaymentAttempt, error) {
	return scanPaymentAttempt(q.db.QueryRow(ctx, createPaymentAttempt,
		arg.OrderID,
		arg.MerchantRequestID,
		arg.CheckoutRequestID,
		arg.PhoneNumber,
		arg.Amount,
	))
}

const getPaymentAttemptByCheckoutIDForUpdate = `SELECT ` + paymentAttemptColumns + `
FROM payment_attempts WHERE checkout_request_id = $1
FOR NO KEY UPDATE`

func (q *Queries) GetPaymentAttemptByCheckoutIDForUpdate(ctx context.Context, checkoutRequestID string) (PaymentAttempt, error) {
	return scanPaymentAttempt(q.db.QueryRow(ctx, getPaymentAttemptByCheckoutIDForUpdate, checkoutRequestID))
}

const getLatestAttemptByOrder = `SELECT ` + paymentAttemptColumns + `
FROM payment_attempts WHERE order_id = $1
ORDER BY created_at DESC
LIMIT 1`

func (q *Queries) GetLatestAttemptByOrder(ctx context.Context, orderID uuid.UUID) (PaymentAttempt, error) {
	return scanPaymentAttempt(q.db.QueryRow(ctx, getLatestAttemptByOrder, orderID))
}

const completePaymentAttempt = `
UPDATE payment_attempts
SET status = 'completed', mpesa_receipt_number = $2, transaction_date = $3,
    result_code = $4, result_desc = $5, updated_at = $6
WHERE id = $1 AND status IN ('initiated', 'pending')
RETURNING ` + paymentAttemptColumns

type CompletePaymentAttemptParams struct {
	ID                 uuid.UUID          `json:"id"`
	MpesaReceiptNumber pgtype.Text        `json:"mpesa_receipt_number"`
	TransactionDate    pgtype.Timestamptz `json:"transaction_date"`
	ResultCode         string             `json:"result_code"`
	ResultDesc         string             `json:"result_desc"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func (q *Queries) CompletePaymentAttempt(ctx context.Context, arg CompletePaymentAttemptParams) (PaymentAttempt, error) {
	return scanPaymentAttempt(q.db.QueryRow(ctx, completePaymentAttempt,
		arg.ID,
		arg.MpesaReceiptNumber,
		arg.TransactionDate,
		arg.ResultCode,
		arg.ResultDesc,
		arg.UpdatedAt,
	))
}

const failPaymentAttempt = `
UPDATE payment_attempts
SET status = $2, result_code = $3, result_desc = $4, updated_at = $5
WHERE id = $1 AND status IN ('initiated', 'pending')
RETURNING ` + paymentAttemptColumns

type FailPaymentAttemptParams struct {
	ID         uuid.UUID     `json:"id"`
	Status     PaymentStatus `json:"status"`
	ResultCode string        `json:"result_code"`
	ResultDesc string        `json:"result_desc"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// FailPaymentAttempt moves a live attempt to failed or cancelled.
func (q *Queries) FailPaymentAttempt(ctx context.Context, arg FailPaymentAttemptParams) (PaymentAttempt, error) {
	return scanPaymentAttempt(q.db.QueryRow(ctx, failPaymentAttempt,
		arg.ID,
		arg.Status,
		arg.ResultCode,
		arg.ResultDesc,
		arg.UpdatedAt,
	))
}

const listPaymentAttemptsByOrder = `SELECT ` + paymentAttemptColumns + `
FROM payment_attempts WHERE order_id = $1
ORDER BY created_at`

func (q *Queries) ListPaymentAttemptsByOrder(ctx context.Context, orderID uuid.UUID) ([]PaymentAttempt, error) {
	rows, err := q.db.Query(ctx, listPaymentAttemptsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PaymentAttempt
	for rows.Next() {
		i, err := scanPaymentAttempt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
