package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusServed    OrderStatus = "served"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transition may leave this status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusServed, OrderStatusExpired, OrderStatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "initiated"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Terminal reports whether the attempt already received its outcome.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

type MealPeriod struct {
	ID                uuid.UUID   `json:"id"`
	Name              string      `json:"name"`
	StartTime         pgtype.Time `json:"start_time"`
	EndTime           pgtype.Time `json:"end_time"`
	OrderingStartTime pgtype.Time `json:"ordering_start_time"`
	OrderingEndTime   pgtype.Time `json:"ordering_end_time"`
	ServingStartTime  pgtype.Time `json:"serving_start_time"`
	ServingEndTime    pgtype.Time `json:"serving_end_time"`
	IsActive          bool        `json:"is_active"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

type FoodItem struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	Description   pgtype.Text    `json:"description"`
	PricePerPlate pgtype.Numeric `json:"price_per_plate"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type Staff struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	EmployeeID     string    `json:"employee_id"`
	Role           string    `json:"role"`
	HashedPassword string    `json:"hashed_password"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type DailyMenu struct {
	ID           uuid.UUID   `json:"id"`
	MenuDate     pgtype.Date `json:"menu_date"`
	MealPeriodID uuid.UUID   `json:"meal_period_id"`
	IsActive     bool        `json:"is_active"`
	IsPublished  bool        `json:"is_published"`
	Notes        pgtype.Text `json:"notes"`
	CreatedBy    pgtype.UUID `json:"created_by"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type DailyMenuItem struct {
	ID             uuid.UUID `json:"id"`
	DailyMenuID    uuid.UUID `json:"daily_menu_id"`
	FoodItemID     uuid.UUID `json:"food_item_id"`
	BatchCount     int32     `json:"batch_count"`
	PlatesPerBatch int32     `json:"plates_per_batch"`
	TotalPlates    int32     `json:"total_plates"`
	ReservedPlates int32     `json:"reserved_plates"`
	IsAvailable    bool      `json:"is_available"`
	SoldOut        bool      `json:"sold_out"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Order struct {
	ID                     uuid.UUID          `json:"id"`
	OrderCode              string             `json:"order_code"`
	DailyMenuID            uuid.UUID          `json:"daily_menu_id"`
	StudentUserID          pgtype.UUID        `json:"student_user_id"`
	RegistrationNumber     string             `json:"registration_number"`
	PayerName              string             `json:"payer_name"`
	PayerPhone             string             `json:"payer_phone"`
	IsGuest                bool               `json:"is_guest"`
	TotalAmount            pgtype.Numeric     `json:"total_amount"`
	Status                 OrderStatus        `json:"status"`
	MpesaReceiptNumber     pgtype.Text        `json:"mpesa_receipt_number"`
	MpesaCheckoutRequestID pgtype.Text        `json:"mpesa_checkout_request_id"`
	PaymentDate            pgtype.Timestamptz `json:"payment_date"`
	OrderedAt              time.Time          `json:"ordered_at"`
	ConfirmedAt            pgtype.Timestamptz `json:"confirmed_at"`
	ServedAt               pgtype.Timestamptz `json:"served_at"`
	ServedBy               pgtype.UUID        `json:"served_by"`
	CancelledAt            pgtype.Timestamptz `json:"cancelled_at"`
	ExpiredAt              pgtype.Timestamptz `json:"expired_at"`
	ExpiresAt              time.Time          `json:"expires_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

type OrderItem struct {
	ID              uuid.UUID          `json:"id"`
	OrderID         uuid.UUID          `json:"order_id"`
	DailyMenuItemID uuid.UUID          `json:"daily_menu_item_id"`
	FoodItemID      uuid.UUID          `json:"food_item_id"`
	FoodName        string             `json:"food_name"`
	Quantity        int32              `json:"quantity"`
	UnitPrice       pgtype.Numeric     `json:"unit_price"`
	Subtotal        pgtype.Numeric     `json:"subtotal"`
	ReleasedAt      pgtype.Timestamptz `json:"released_at"`
	CreatedAt       time.Time          `json:"created_at"`
}

type PaymentAttempt struct {
	ID                 uuid.UUID          `json:"id"`
	OrderID            uuid.UUID          `json:"order_id"`
	MerchantRequestID  string             `json:"merchant_request_id"`
	CheckoutRequestID  string             `json:"checkout_request_id"`
	PhoneNumber        string             `json:"phone_number"`
	Amount             pgtype.Numeric     `json:"amount"`
	Status             PaymentStatus      `json:"status"`
	MpesaReceiptNumber pgtype.Text        `json:"mpesa_receipt_number"`
	TransactionDate    pgtype.Timestamptz `json:"transaction_date"`
	ResultCode         pgtype.Text        `json:"result_code"`
	ResultDesc         pgtype.Text        `json:"result_desc"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}
