package service

import (
	"errors"
	"fmt"
)

// ErrValidation is the parent of every input validation error so callers can
// map the whole family with a single errors.Is check.
var ErrValidation = errors.New("validation failed")

func validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Validation errors.
var (
	ErrEmptyCart         = validation("at least one item is required")
	ErrInvalidPhone      = validation("phone number must be in format 254XXXXXXXXX")
	ErrMissingIdentity   = validation("name and registration number are required")
	ErrMissingRegNumber  = validation("registration number is required")
	ErrInvalidStockID    = validation("invalid menu item id")
	ErrInvalidQuantity   = validation("quantity must be 1")
	ErrDuplicateItem     = validation("each food item may appear only once per order")
	ErrMixedMenus        = validation("all items must come from the same menu")
	ErrInvalidStudentID  = validation("invalid student user id")
	ErrInvalidMenuDate   = validation("menu date must be YYYY-MM-DD")
	ErrInvalidBatch      = validation("batch count and plates per batch must be at least 1")
	ErrTooManyPlates     = validation(fmt.Sprintf("a menu item may hold at most %d plates", MaxPlatesPerItem))
	ErrInvalidFoodItemID = validation("invalid food item id")
)

// Inventory and order errors.
var (
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrOrderingWindowClosed = errors.New("ordering window is closed")
	ErrMenuItemNotFound     = errors.New("menu item not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrNotConfirmed         = errors.New("order has not been paid")
	ErrOrderExpired         = errors.New("order has expired")
	ErrOutsideServingWindow = errors.New("outside serving window")
	ErrAlreadyServed        = errors.New("order already served")
)

// Payment errors.
var (
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	ErrPaymentInProgress       = errors.New("a payment request is already in progress for this order")
	ErrPaymentPending          = errors.New("payment is still being processed")
	ErrAttemptNotFound         = errors.New("payment attempt not found")
	ErrAlreadyTerminal         = errors.New("payment attempt already settled")
)

// Menu errors.
var (
	ErrMealPeriodNotFound = errors.New("meal period not found")
	ErrFoodItemNotFound   = errors.New("food item not found")
	ErrMenuExists         = errors.New("a menu already exists for this date and meal period")
	ErrMenuNotFound       = errors.New("menu not found")
)
