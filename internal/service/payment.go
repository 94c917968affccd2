package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/muranga-mess/api/internal/clock"
	"github.com/muranga-mess/api/internal/database"
	"github.com/muranga-mess/api/internal/mpesa"
	"github.com/shopspring/decimal"
)

// Gateway is the push-payment provider. Satisfied by *mpesa.Client.
type Gateway interface {
	STKPush(ctx context.Context, in mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
	QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error)
}

// Outcome is the provider's verdict on one push request.
type Outcome struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string
	TransactionDate   time.Time
	Amount            decimal.NullDecimal
}

func (o Outcome) Success() bool { return o.ResultCode == int(mpesa.ResultSuccess) }

// OutcomeFromCallback flattens a gateway callback.
func OutcomeFromCallback(cb mpesa.STKCallback, loc *time.Location) Outcome {
	out := Outcome{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        int(cb.ResultCode),
		ResultDesc:        cb.ResultDesc,
		Receipt:           cb.Receipt(),
	}
	if t, ok := cb.TransactionDate(loc); ok {
		out.TransactionDate = t
	}
	if amt, ok := cb.Amount(); ok {
		out.Amount = decimal.NullDecimal{Decimal: amt, Valid: true}
	}
	return out
}

// SettleResult reports what a settlement did. Duplicate is set when the
// attempt had already been settled and nothing was changed.
type SettleResult struct {
	Attempt   database.PaymentAttempt
	Order     database.Order
	Duplicate bool
}

// PaymentService correlates push requests with their asynchronous outcomes.
type PaymentService struct {
	lifecycle
	newPaymentStore NewPaymentStore
	gateway         Gateway
}

func NewPaymentService(pool DB, newStore NewPaymentStore, ledger *Ledger, gateway Gateway, clk clock.Clock, opts ...Option) *PaymentService {
	orderStore := func(db database.DBTX) OrderStore { return newStore(db) }
	return &PaymentService{
		lifecycle:       newLifecycle(pool, orderStore, ledger, clk, opts),
		newPaymentStore: newStore,
		gateway:         gateway,
	}
}

// Initiate sends the push prompt for order and records a pending attempt.
// It never touches the order or its stock.
func (s *PaymentService) Initiate(ctx context.Context, order database.Order) (database.PaymentAttempt, error) {
	amount := numericToDecimal(order.TotalAmount)

	resp, err := s.gateway.STKPush(ctx, mpesa.STKPushRequest{
		PhoneNumber:      order.PayerPhone,
		Amount:           amount,
		AccountReference: order.OrderCode,
		Description:      "Muranga Mess Order " + order.OrderCode,
	})
	if err != nil {
		log.Printf("ERROR: stk push for order %s: %v", order.OrderCode, err)
		var apiErr *mpesa.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			return database.PaymentAttempt{}, fmt.Errorf("%w: %s", ErrPaymentInitiationFailed, apiErr.Message)
		}
		return database.PaymentAttempt{}, ErrPaymentInitiationFailed
	}

	// The prompt is already on the payer's handset, so the attempt must be
	// recorded even if the caller has gone away.
	attempt, err := s.newPaymentStore(s.pool).CreatePaymentAttempt(context.WithoutCancel(ctx), database.CreatePaymentAttemptParams{
		OrderID:           order.ID,
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		PhoneNumber:       order.PayerPhone,
		Amount:            decimalToNumeric(amount),
	})
	if err != nil {
		log.Printf("ERROR: record payment attempt %s for order %s: %v", resp.CheckoutRequestID, order.OrderCode, err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "payment_attempts_one_live_per_order" {
			return database.PaymentAttempt{}, fmt.Errorf("%w: %w", ErrPaymentInitiationFailed, ErrPaymentInProgress)
		}
		return database.PaymentAttempt{}, fmt.Errorf("%w: record attempt: %w", ErrPaymentInitiationFailed, err)
	}
	return attempt, nil
}

// Settle applies an outcome to its attempt and order exactly once. A repeated
// outcome for an already settled attempt returns Duplicate without effects.
func (s *PaymentService) Settle(ctx context.Context, out Outcome) (*SettleResult, error) {
	now := s.clock.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newPaymentStore(tx)
	attempt, err := store.GetPaymentAttemptByCheckoutIDForUpdate(ctx, out.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Printf("WARN: no payment attempt for checkout request %s (result %d)", out.CheckoutRequestID, out.ResultCode)
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("lock attempt: %w", err)
	}

	order, err := store.GetOrderForUpdate(ctx, attempt.OrderID)
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if attempt.Status.Terminal() {
		log.Printf("duplicate outcome for checkout request %s ignored, attempt already %s", out.CheckoutRequestID, attempt.Status)
		return &SettleResult{Attempt: attempt, Order: order, Duplicate: true}, nil
	}

	before := order.Status
	if out.Success() {
		attempt, order, err = s.applySuccess(ctx, store, attempt, order, out, now)
	} else {
		attempt, order, err = s.applyFailure(ctx, store, attempt, order, out, now)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	if order.Status != before {
		s.publish(order, now)
	}
	return &SettleResult{Attempt: attempt, Order: order}, nil
}

func (s *PaymentService) applySuccess(ctx context.Context, store PaymentStore, attempt database.PaymentAttempt, order database.Order, out Outcome, now time.Time) (database.PaymentAttempt, database.Order, error) {
	requested := decimal.NewFromInt(numericToDecimal(attempt.Amount).IntPart())
	if out.Amount.Valid && !out.Amount.Decimal.Equal(requested) {
		log.Printf("WARN: amount mismatch on checkout request %s: requested %s, paid %s",
			out.CheckoutRequestID, requested.String(), out.Amount.Decimal.String())
	}

	paidAt := now
	if !out.TransactionDate.IsZero() {
		paidAt = out.TransactionDate
	}
	attempt, err := store.CompletePaymentAttempt(ctx, database.CompletePaymentAttemptParams{
		ID:                 attempt.ID,
		MpesaReceiptNumber: textOrNull(out.Receipt),
		TransactionDate:    timestamptz(paidAt),
		ResultCode:         fmt.Sprint(out.ResultCode),
		ResultDesc:         out.ResultDesc,
		UpdatedAt:          now,
	})
	if err != nil {
		return attempt, order, fmt.Errorf("complete attempt: %w", err)
	}

	switch {
	case order.Status == database.OrderStatusPending && expirable(order, now):
		log.Printf("WARN: payment %s received for order %s after its deadline, refund required",
			out.Receipt, order.OrderCode)
		order, err = expireLocked(ctx, store, s.ledger, order, now)
		if err != nil {
			return attempt, order, err
		}
	case order.Status == database.OrderStatusPending:
		order, err = store.ConfirmOrder(ctx, database.ConfirmOrderParams{
			ID:                     order.ID,
			MpesaReceiptNumber:     textOrNull(out.Receipt),
			MpesaCheckoutRequestID: textOrNull(out.CheckoutRequestID),
			ConfirmedAt:            now,
		})
		if err != nil {
			return attempt, order, fmt.Errorf("confirm order: %w", err)
		}
	default:
		log.Printf("WARN: payment %s received for %s order %s, refund required",
			out.Receipt, order.Status, order.OrderCode)
	}
	return attempt, order, nil
}

func (s *PaymentService) applyFailure(ctx context.Context, store PaymentStore, attempt database.PaymentAttempt, order database.Order, out Outcome, now time.Time) (database.PaymentAttempt, database.Order, error) {
	status := database.PaymentStatusFailed
	if out.ResultCode == int(mpesa.ResultCancelledByUser) {
		status = database.PaymentStatusCancelled
	}
	attempt, err := store.FailPaymentAttempt(ctx, database.FailPaymentAttemptParams{
		ID:         attempt.ID,
		Status:     status,
		ResultCode: fmt.Sprint(out.ResultCode),
		ResultDesc: out.ResultDesc,
		UpdatedAt:  now,
	})
	if err != nil {
		return attempt, order, fmt.Errorf("fail attempt: %w", err)
	}

	if order.Status == database.OrderStatusPending {
		order, err = cancelLocked(ctx, store, s.ledger, order, now)
		if err != nil {
			return attempt, order, err
		}
	}
	return attempt, order, nil
}

// Reconcile asks the gateway for the outcome of an order's latest attempt,
// for when its callback never arrived, and settles it. If that attempt is
// already settled the current state comes back together with ErrAlreadyTerminal.
func (s *PaymentService) Reconcile(ctx context.Context, orderCode string) (*SettleResult, error) {
	store := s.newPaymentStore(s.pool)
	order, err := store.GetOrderByCode(ctx, normalizeCode(orderCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	attempt, err := store.GetLatestAttemptByOrder(ctx, order.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status.Terminal() {
		if expirable(order, s.clock.Now()) {
			if order, _, err = s.expire(ctx, order.ID); err != nil {
				return nil, err
			}
		}
		return &SettleResult{Attempt: attempt, Order: order, Duplicate: true}, ErrAlreadyTerminal
	}

	resp, err := s.gateway.QuerySTKStatus(ctx, attempt.CheckoutRequestID)
	if err != nil {
		var apiErr *mpesa.APIError
		if errors.As(err, &apiErr) && apiErr.Pending() {
			return nil, ErrPaymentPending
		}
		return nil, fmt.Errorf("query payment: %w", err)
	}

	return s.Settle(ctx, Outcome{
		CheckoutRequestID: attempt.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		ResultCode:        int(resp.ResultCode),
		ResultDesc:        resp.ResultDesc,
	})
}
