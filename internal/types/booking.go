package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BOOKING TYPES
// =============================================================================

// BookingStatus tracks the lifecycle of a booking. completed is terminal;
// cancelled retains items but cascades the status to every item.
type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

// Cancellable reports whether a booking in this status may still be cancelled.
func (s BookingStatus) Cancellable() bool {
	return s == BookingPending || s == BookingConfirmed
}

// PaymentStatus tracks money movement for a booking.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Booking is one committed service order. Invariant: Total equals the sum of
// item FinalAmount values.
type Booking struct {
	ID                 int64           `json:"id"`
	OrderID            string          `json:"order_id"`        // human-readable, unique, <= 50 chars
	BookingNumber      string          `json:"booking_number"`  // second human token, unique
	UserRef            int64           `json:"user_ref"`
	AddressRef         int64           `json:"address_ref"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	Total              decimal.Decimal `json:"total"`
	Status             BookingStatus   `json:"status"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	PreferredDate      string          `json:"preferred_date"` // 2006-01-02
	PreferredTime      string          `json:"preferred_time"` // 15:04
	SpecialInstructions string         `json:"special_instructions,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`

	Items []BookingItem `json:"items,omitempty"`
}

// BookingItem is one service line under a booking.
type BookingItem struct {
	ID                  int64           `json:"id"`
	BookingID           int64           `json:"booking_id"`
	RateCardID          int64           `json:"rate_card_id"`
	ProviderRef         *int64          `json:"provider_ref,omitempty"` // assignment out of scope, left null
	AddressRef          int64           `json:"address_ref"`
	ServiceName         string          `json:"service_name"`
	Quantity            int             `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	FinalAmount         decimal.Decimal `json:"final_amount"`
	ScheduledDate       string          `json:"scheduled_date"`        // 2006-01-02
	ScheduledWindowFrom string          `json:"scheduled_window_from"` // 15:04
	ScheduledWindowTo   string          `json:"scheduled_window_to"`   // 15:04
	Status              BookingStatus   `json:"status"`
	PaymentStatus       PaymentStatus   `json:"payment_status"`
}
