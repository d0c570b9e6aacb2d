package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Role is the closed set of account roles. Legacy "BOTH" inputs are folded
// to DRIVER at the identity boundary and never appear internally.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// Identity is the resolved caller for a request: validated once at the
// boundary and passed down as-is.
type Identity struct {
	AccountID string
	Role      Role
	Email     string
}

type RideStatus string

const (
	RideOpen      RideStatus = "open"
	RideAccepted  RideStatus = "accepted"
	RideInRoute   RideStatus = "in_route"
	RideCompleted RideStatus = "completed"
	RideCancelled RideStatus = "cancelled"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingAccepted  BookingStatus = "accepted"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

type PaymentType string

const (
	PaymentCard PaymentType = "card"
	PaymentCash PaymentType = "cash"
)

// Ride is a driver-posted trip offer.
type Ride struct {
	ID              string     `json:"id"`
	DriverID        string     `json:"driver_id"`
	OriginText      string     `json:"origin"`
	DestinationText string     `json:"destination"`
	Origin          Coord      `json:"origin_coord"`
	Destination     Coord      `json:"destination_coord"`
	DistanceMiles   float64    `json:"distance_miles"`
	DepartureAt     time.Time  `json:"departure_at"`
	Passengers      int        `json:"passengers"`
	Status          RideStatus `json:"status"`
	TripStartedAt   *time.Time `json:"trip_started_at,omitempty"`
	TripCompletedAt *time.Time `json:"trip_completed_at,omitempty"`
	TotalPriceCents *int64     `json:"total_price_cents,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Booking is a rider's claim on a ride. The fare snapshot written at
// acceptance is the authoritative settlement amount and is never recomputed.
type Booking struct {
	ID               string        `json:"id"`
	RideID           string        `json:"ride_id"`
	RiderID          string        `json:"rider_id"`
	Status           BookingStatus `json:"status"`
	PaymentType      PaymentType   `json:"payment_type"`
	CashDiscountBps  int64         `json:"cash_discount_bps"`
	BaseAmountCents  int64         `json:"base_amount_cents"`
	DiscountCents    int64         `json:"discount_cents"`
	FinalAmountCents int64         `json:"final_amount_cents"`
	Currency         string        `json:"currency"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type MembershipType string

const (
	MembershipRider  MembershipType = "rider"
	MembershipDriver MembershipType = "driver"
)

// MembershipTypeForRole maps an account role to the membership type gating
// it. Admin actions run under the driver type.
func MembershipTypeForRole(r Role) MembershipType {
	if r == RoleRider {
		return MembershipRider
	}
	return MembershipDriver
}

// Membership is one grant row per (account, type); only the most recently
// started row is authoritative, older rows are history.
type Membership struct {
	ID              string         `json:"id"`
	AccountID       string         `json:"account_id"`
	Type            MembershipType `json:"type"`
	Plan            string         `json:"plan,omitempty"`
	Status          string         `json:"status"`
	StartDate       time.Time      `json:"start_date"`
	ExpiryDate      *time.Time     `json:"expiry_date"`
	AmountPaidCents int64          `json:"amount_paid_cents"`
}

// Conversation is a chat channel bound to exactly one ride with a per-party
// last-read watermark.
type Conversation struct {
	ID               string     `json:"id"`
	RideID           string     `json:"ride_id"`
	DriverID         string     `json:"driver_id"`
	RiderID          string     `json:"rider_id"`
	DriverLastReadAt *time.Time `json:"driver_last_read_at,omitempty"`
	RiderLastReadAt  *time.Time `json:"rider_last_read_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// FareBreakdown is the three-line fare produced by the fare engine and
// frozen onto a booking at acceptance.
type FareBreakdown struct {
	BaseAmountCents  int64 `json:"base_amount_cents"`
	DiscountCents    int64 `json:"discount_cents"`
	FinalAmountCents int64 `json:"final_amount_cents"`
}

// Event is a lifecycle notification handed off to the notifier. Publishing
// is best effort and never blocks or fails the triggering transition.
type Event struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"` // ride.completed, receipt.requested, membership.extended
	RideID      string    `json:"ride_id,omitempty"`
	AccountID   string    `json:"account_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

const (
	EventRideCompleted      = "ride.completed"
	EventReceiptRequested   = "receipt.requested"
	EventMembershipExtended = "membership.extended"
)
