package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, order_code, daily_menu_id, student_user_id, registration_number, payer_name,
    payer_phone, is_guest, total_amount, status, mpesa_receipt_number, mpesa_checkout_request_id,
    payment_date, ordered_at, confirmed_at, served_at, served_by, cancelled_at, expired_at,
    expires_at, updated_at`

func scanOrder(row rowScanner) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.OrderCode,
		&i.DailyMenuID,
		&i.StudentUserID,
		&i.RegistrationNumber,
		&i.PayerName,
		&i.PayerPhone,
		&i.IsGuest,
		&i.TotalAmount,
		&i.Status,
		&i.MpesaReceiptNumber,
		&i.MpesaCheckoutRequestID,
		&i.PaymentDate,
		&i.OrderedAt,
		&i.ConfirmedAt,
		&i.ServedAt,
		&i.ServedBy,
		&i.CancelledAt,
		&i.ExpiredAt,
		&i.ExpiresAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectOrders(ctx context.Context, db DBTX, query string, args ...interface{}) ([]Order, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		i, err := scanOrder(rows)
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

const createOrder = `
INSERT INTO orders (order_code, daily_menu_id, student_user_id, registration_number, payer_name,
    payer_phone, is_guest, total_amount, status, ordered_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $10)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	OrderCode          string         `json:"order_code"`
	DailyMenuID        uuid.UUID      `json:"daily_menu_id"`
	StudentUserID      pgtype.UUID    `json:"student_user_id"`
	RegistrationNumber string         `json:"registration_number"`
	PayerName          string         `json:"payer_name"`
	PayerPhone         string         `json:"payer_phone"`
	IsGuest            bool           `json:"is_guest"`
	TotalAmount        pgtype.Numeric `json:"total_amount"`
	OrderedAt          time.Time      `json:"ordered_at"`
	ExpiresAt          time.Time      `json:"expires_at"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, createOrder,
		arg.OrderCode,
		arg.DailyMenuID,
		arg.StudentUserID,
		arg.RegistrationNumber,
		arg.PayerName,
		arg.PayerPhone,
		arg.IsGuest,
		arg.TotalAmount,
		arg.OrderedAt,
		arg.ExpiresAt,
	))
}

const getOrderByCode = `SELECT ` + orderColumns + ` FROM orders WHERE order_code = $1`

func (q *Queries) GetOrderByCode(ctx context.Context, orderCode string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByCode, orderCode))
}

const getOrderByCodeForUpdate = `SELECT ` + orderColumns + `
FROM orders WHERE order_code = $1
FOR NO KEY UPDATE`

func (q *Queries) GetOrderByCodeForUpdate(ctx context.Context, orderCode string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByCodeForUpdate, orderCode))
}

const getOrderForUpdate = `SELECT ` + orderColumns + `
FROM orders WHERE id = $1
FOR NO KEY UPDATE`

func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, id))
}

const confirmOrder = `
UPDATE orders
SET status = 'confirmed', mpesa_receipt_number = $2, mpesa_checkout_request_id = $3,
    payment_date = $4, confirmed_at = $4, updated_at = $4
WHERE id = $1 AND status = 'pending'
RETURNING ` + orderColumns

type ConfirmOrderParams struct {
	ID                     uuid.UUID   `json:"id"`
	MpesaReceiptNumber     pgtype.Text `json:"mpesa_receipt_number"`
	MpesaCheckoutRequestID pgtype.Text `json:"mpesa_checkout_request_id"`
	ConfirmedAt            time.Time   `json:"confirmed_at"`
}

// ConfirmOrder returns pgx.ErrNoRows when the order is no longer pending.
func (q *Queries) ConfirmOrder(ctx context.Context, arg ConfirmOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, confirmOrder,
		arg.ID,
		arg.MpesaReceiptNumber,
		arg.MpesaCheckoutRequestID,
		arg.ConfirmedAt,
	))
}

const cancelOrder = `
UPDATE orders
SET status = 'cancelled', cancelled_at = $2, updated_at = $2
WHERE id = $1 AND status = 'pending'
RETURNING ` + orderColumns

type CancelOrderParams struct {
	ID          uuid.UUID `json:"id"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func (q *Queries) CancelOrder(ctx context.Context, arg CancelOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, cancelOrder, arg.ID, arg.CancelledAt))
}

const expireOrder = `
UPDATE orders
SET status = 'expired', expired_at = $2, updated_at = $2
WHERE id = $1 AND status IN ('pending', 'confirmed')
RETURNING ` + orderColumns

type ExpireOrderParams struct {
	ID        uuid.UUID `json:"id"`
	ExpiredAt time.Time `json:"expired_at"`
}

func (q *Queries) ExpireOrder(ctx context.Context, arg ExpireOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, expireOrder, arg.ID, arg.ExpiredAt))
}

const serveOrder = `
UPDATE orders
SET status = 'served', served_at = $3, served_by = $2, updated_at = $3
WHERE id = $1 AND status = 'confirmed'
RETURNING ` + orderColumns

type ServeOrderParams struct {
	ID       uuid.UUID `json:"id"`
	ServedBy uuid.UUID `json:"served_by"`
	ServedAt time.Time `json:"served_at"`
}

func (q *Queries) ServeOrder(ctx context.Context, arg ServeOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, serveOrder, arg.ID, arg.ServedBy, arg.ServedAt))
}

const deleteOrder = `DELETE FROM orders WHERE id = $1 AND status = 'pending'`

func (q *Queries) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteOrder, id)
	return err
}

const listExpirableOrders = `SELECT ` + orderColumns + `
FROM orders
WHERE status IN ('pending', 'confirmed') AND expires_at < $1
ORDER BY expires_at
LIMIT $2`

type ListExpirableOrdersParams struct {
	Now   time.Time `json:"now"`
	Limit int32     `json:"limit"`
}

func (q *Queries) ListExpirableOrders(ctx context.Context, arg ListExpirableOrdersParams) ([]Order, error) {
	return collectOrders(ctx, q.db, listExpirableOrders, arg.Now, arg.Limit)
}

const listOrdersByMenu = `SELECT ` + orderColumns + `
FROM orders
WHERE daily_menu_id = $1 AND ($2::text IS NULL OR status = $2::text)
ORDER BY ordered_at DESC
LIMIT $3 OFFSET $4`

type ListOrdersByMenuParams struct {
	DailyMenuID uuid.UUID   `json:"daily_menu_id"`
	Status      pgtype.Text `json:"status"`
	Limit       int32       `json:"limit"`
	Offset      int32       `json:"offset"`
}

func (q *Queries) ListOrdersByMenu(ctx context.Context, arg ListOrdersByMenuParams) ([]Order, error) {
	return collectOrders(ctx, q.db, listOrdersByMenu, arg.DailyMenuID, arg.Status, arg.Limit, arg.Offset)
}

const listOrdersByRegistration = `SELECT ` + orderColumns + `
FROM orders
WHERE registration_number = $1
ORDER BY ordered_at DESC
LIMIT $2 OFFSET $3`

type ListOrdersByRegistrationParams struct {
	RegistrationNumber string `json:"registration_number"`
	Limit              int32  `json:"limit"`
	Offset             int32  `json:"offset"`
}

func (q *Queries) ListOrdersByRegistration(ctx context.Context, arg ListOrdersByRegistrationParams) ([]Order, error) {
	return collectOrders(ctx, q.db, listOrdersByRegistration, arg.RegistrationNumber, arg.Limit, arg.Offset)
}

const countOrdersByStatus = `
SELECT status, COUNT(*)::bigint, COALESCE(SUM(total_amount), 0)::numeric
FROM orders
WHERE daily_menu_id = $1
GROUP BY status`

type CountOrdersByStatusRow struct {
	Status      OrderStatus    `json:"status"`
	OrderCount  int64          `json:"order_count"`
	TotalAmount pgtype.Numeric `json:"total_amount"`
}

func (q *Queries) CountOrdersByStatus(ctx context.Context, dailyMenuID uuid.UUID) ([]CountOrdersByStatusRow, error) {
	rows, err := q.db.Query(ctx, countOrdersByStatus, dailyMenuID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CountOrdersByStatusRow
	for rows.Next() {
		var i CountOrdersByStatusRow
		if err := rows.Scan(&i.Status, &i.OrderCount, &i.TotalAmount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const orderItemColumns = `id, order_id, daily_menu_item_id, food_item_id, food_name, quantity,
    unit_price, subtotal, released_at, created_at`

func scanOrderItem(row rowScanner) (OrderItem, error) {
	var i OrderItem
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.DailyMenuItemID,
		&i.FoodItemID,
		&i.FoodName,
		&i.Quantity,
		&i.UnitPrice,
		&i.Subtotal,
		&i.ReleasedAt,
		&i.CreatedAt,
	)
	return i, err
}

const createOrderItem = `
INSERT INTO order_items (order_id, daily_menu_item_id, food_item_id, food_name, quantity, unit_price, subtotal)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + orderItemColumns

type CreateOrderItemParams struct {
	OrderID         uuid.UUID      `json:"order_id"`
	DailyMenuItemID uuid.UUID      `json:"daily_menu_item_id"`
	FoodItemID      uuid.UUID      `json:"food_item_id"`
	FoodName        string         `json:"food_name"`
	Quantity        int32          `json:"quantity"`
	UnitPrice       pgtype.Numeric `json:"unit_price"`
	Subtotal        pgtype.Numeric `json:"subtotal"`
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID,
		arg.DailyMenuItemID,
		arg.FoodItemID,
		arg.FoodName,
		arg.Quantity,
		arg.UnitPrice,
		arg.Subtotal,
	))
}

const listOrderItemsByOrder = `SELECT ` + orderItemColumns + `
FROM order_items WHERE order_id = $1 ORDER BY created_at, food_name`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		i, err := scanOrderItem(rows)
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

const markOrderItemReleased = `
UPDATE order_items SET released_at = $2
WHERE id = $1 AND released_at IS NULL
RETURNING ` + orderItemColumns

type MarkOrderItemReleasedParams struct {
	ID         uuid.UUID `json:"id"`
	ReleasedAt time.Time `json:"released_at"`
}

// MarkOrderItemReleased returns pgx.ErrNoRows if the reservation was already released.
func (q *Queries) MarkOrderItemReleased(ctx context.Context, arg MarkOrderItemReleasedParams) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, markOrderItemReleased, arg.ID, arg.ReleasedAt))
}
