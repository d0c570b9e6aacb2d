package lifecycle

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/fare"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/membership"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/observability"
)

// MaxPassengers bounds a posted ride's seat count.
const MaxPassengers = 6

// Store is the persistence surface the lifecycle services need. The
// transition operations are conditional on current status and must be atomic
// in the implementation: AcceptRide in particular evaluates "ride is open and
// no accepted booking exists" and writes the booking and ride together.
type Store interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	ListOpenRides(ctx context.Context) ([]models.Ride, error)

	AcceptRide(ctx context.Context, rideID string, b *models.Booking, conv *models.Conversation, now time.Time) error
	StartRide(ctx context.Context, rideID string, now time.Time) (*models.Ride, error)
	CompleteRide(ctx context.Context, rideID string, totalCents int64, now time.Time) (*models.Ride, error)
	CancelRide(ctx context.Context, rideID string, now time.Time) (*models.Ride, error)

	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	AcceptedBooking(ctx context.Context, rideID string) (*models.Booking, error)
	PendingBooking(ctx context.Context, rideID, riderID string) (*models.Booking, error)
	FinishPendingBooking(ctx context.Context, bookingID string, to models.BookingStatus, now time.Time) (*models.Booking, error)
}

// Publisher hands lifecycle events to the notification pipeline. Publish
// failures are logged and swallowed; they never fail a transition.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Service drives the ride and booking state machines.
type Service struct {
	Store   Store
	Gate    *membership.Gate
	Pricing fare.Pricing
	Events  Publisher
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewService(store Store, gate *membership.Gate, pricing fare.Pricing, events Publisher, logger *slog.Logger) *Service {
	return &Service{Store: store, Gate: gate, Pricing: pricing, Events: events, Logger: logger, Now: time.Now}
}

// Post creates a new OPEN ride for the acting driver.
func (s *Service) Post(ctx context.Context, id models.Identity, ride models.Ride) (*models.Ride, error) {
	if id.Role != models.RoleDriver && id.Role != models.RoleAdmin {
		return nil, faults.New(faults.Forbidden, "only drivers may post rides")
	}
	if ride.DistanceMiles <= 0 || math.IsNaN(ride.DistanceMiles) || math.IsInf(ride.DistanceMiles, 0) {
		return nil, faults.New(faults.Validation, "distance must be a positive number of miles")
	}
	if ride.Passengers < 1 || ride.Passengers > MaxPassengers {
		return nil, faults.Newf(faults.Validation, "passenger count must be between 1 and %d", MaxPassengers)
	}
	if ride.DepartureAt.IsZero() {
		return nil, faults.New(faults.Validation, "departure time is required")
	}
	now := s.Now()
	ride.ID = uuid.NewString()
	ride.DriverID = id.AccountID
	ride.Status = models.RideOpen
	ride.TripStartedAt = nil
	ride.TripCompletedAt = nil
	ride.TotalPriceCents = nil
	ride.CreatedAt = now
	ride.UpdatedAt = now
	if err := s.Store.CreateRide(ctx, &ride); err != nil {
		return nil, err
	}
	observability.RidesPosted.Inc()
	s.Logger.Info("ride posted", "ride_id", ride.ID, "driver_id", ride.DriverID, "miles", ride.DistanceMiles)
	return &ride, nil
}

// Request claims an OPEN ride with a PENDING booking. Creating a booking is
// membership-gated; a trial account is sufficient.
func (s *Service) Request(ctx context.Context, rideID string, id models.Identity, payment models.PaymentType, cashDiscountBps int64) (*models.Booking, error) {
	if id.Role != models.RoleRider {
		return nil, faults.New(faults.Forbidden, "only riders may request bookings")
	}
	if err := validPayment(payment, cashDiscountBps); err != nil {
		return nil, err
	}
	if err := s.Gate.Authorize(ctx, id, true); err != nil {
		if faults.KindOf(err) == faults.Forbidden {
			observability.GateDenials.Inc()
		}
		return nil, err
	}
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideOpen {
		return nil, faults.Newf(faults.InvalidState, "ride is %s, not open", ride.Status)
	}
	now := s.Now()
	b := &models.Booking{
		ID:              uuid.NewString(),
		RideID:          rideID,
		RiderID:         id.AccountID,
		Status:          models.BookingPending,
		PaymentType:     payment,
		CashDiscountBps: cashDiscountBps,
		Currency:        "USD",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// CreateBooking enforces availability: the insert fails with Conflict if
	// an accepted booking already references the ride.
	if err := s.Store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Accept transitions an OPEN ride to ACCEPTED, freezing the fare snapshot.
// Exactly one concurrent Accept wins; the loser sees Conflict. When the
// acting account already holds a PENDING booking on the ride it is promoted,
// otherwise a booking row is created directly in ACCEPTED.
func (s *Service) Accept(ctx context.Context, rideID string, id models.Identity, payment models.PaymentType, cashDiscountBps int64) (*models.Booking, error) {
	if err := validPayment(payment, cashDiscountBps); err != nil {
		return nil, err
	}
	if err := s.Gate.Authorize(ctx, id, true); err != nil {
		if faults.KindOf(err) == faults.Forbidden {
			observability.GateDenials.Inc()
		}
		return nil, err
	}
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideOpen {
		return nil, faults.Newf(faults.InvalidState, "ride is %s, not open", ride.Status)
	}
	now := s.Now()
	breakdown := fare.Compute(s.Pricing.QuoteBaseCents(ride.DistanceMiles), payment, cashDiscountBps)

	b := &models.Booking{
		RideID:           rideID,
		RiderID:          id.AccountID,
		Status:           models.BookingAccepted,
		PaymentType:      payment,
		CashDiscountBps:  cashDiscountBps,
		BaseAmountCents:  breakdown.BaseAmountCents,
		DiscountCents:    breakdown.DiscountCents,
		FinalAmountCents: breakdown.FinalAmountCents,
		Currency:         "USD",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	pending, err := s.Store.PendingBooking(ctx, rideID, id.AccountID)
	if err != nil && faults.KindOf(err) != faults.NotFound {
		return nil, err
	}
	if pending != nil {
		b.ID = pending.ID
		b.CreatedAt = pending.CreatedAt
	} else {
		b.ID = uuid.NewString()
	}

	conv := &models.Conversation{
		ID:        uuid.NewString(),
		RideID:    rideID,
		DriverID:  ride.DriverID,
		RiderID:   id.AccountID,
		CreatedAt: now,
	}
	if err := s.Store.AcceptRide(ctx, rideID, b, conv, now); err != nil {
		if faults.KindOf(err) == faults.Conflict {
			observability.AcceptConflicts.Inc()
		}
		return nil, err
	}
	observability.RidesAccepted.Inc()
	s.Logger.Info("ride accepted", "ride_id", rideID, "booking_id", b.ID, "fare_cents", b.FinalAmountCents)
	return b, nil
}

// StartTrip moves an ACCEPTED ride to IN_ROUTE. The start timestamp is
// first-write-wins so retries keep the original instant.
func (s *Service) StartTrip(ctx context.Context, rideID string, id models.Identity) (*models.Ride, error) {
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := s.requireDriver(ride, id); err != nil {
		return nil, err
	}
	if ride.Status != models.RideAccepted {
		return nil, faults.Newf(faults.InvalidState, "ride is %s, cannot start trip", ride.Status)
	}
	return s.Store.StartRide(ctx, rideID, s.Now())
}

// CompleteTrip moves an IN_ROUTE ride to COMPLETED and settles it. The
// booking's frozen snapshot is the contract price; the freshly measured fare
// is a backstop used only when no snapshot exists.
func (s *Service) CompleteTrip(ctx context.Context, rideID string, id models.Identity, measuredMiles float64, measuredFareCents int64) (*models.Ride, error) {
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := s.requireDriver(ride, id); err != nil {
		return nil, err
	}
	if ride.Status != models.RideInRoute {
		return nil, faults.Newf(faults.InvalidState, "ride is %s, cannot complete trip", ride.Status)
	}

	total := int64(0)
	bk, err := s.Store.AcceptedBooking(ctx, rideID)
	if err != nil && faults.KindOf(err) != faults.NotFound {
		return nil, err
	}
	switch {
	case bk != nil && bk.FinalAmountCents > 0:
		total = bk.FinalAmountCents
	case measuredFareCents > 0:
		total = measuredFareCents
	default:
		total = s.Pricing.QuoteBaseCents(measuredMiles)
	}

	now := s.Now()
	updated, err := s.Store.CompleteRide(ctx, rideID, total, now)
	if err != nil {
		return nil, err
	}
	observability.RidesCompleted.Inc()
	s.Logger.Info("trip completed", "ride_id", rideID, "total_cents", total)
	s.publish(ctx, models.Event{
		ID:          uuid.NewString(),
		Kind:        models.EventRideCompleted,
		RideID:      rideID,
		AccountID:   ride.DriverID,
		AmountCents: total,
		OccurredAt:  now,
	})
	return updated, nil
}

// Cancel moves any non-terminal ride to CANCELLED. Non-terminal bookings on
// the ride are cascaded to CANCELLED in the same transaction.
func (s *Service) Cancel(ctx context.Context, rideID string, id models.Identity) (*models.Ride, error) {
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := s.requireDriver(ride, id); err != nil {
		return nil, err
	}
	if RideTerminal(ride.Status) {
		return nil, faults.Newf(faults.InvalidState, "ride is already %s", ride.Status)
	}
	updated, err := s.Store.CancelRide(ctx, rideID, s.Now())
	if err != nil {
		return nil, err
	}
	s.Logger.Info("ride cancelled", "ride_id", rideID)
	return updated, nil
}

// WithdrawBooking cancels or expires a PENDING booking. Only the booking's
// rider may withdraw; expiry is reserved for the system sweeper.
func (s *Service) WithdrawBooking(ctx context.Context, bookingID string, id models.Identity, to models.BookingStatus) (*models.Booking, error) {
	if to != models.BookingCancelled && to != models.BookingExpired {
		return nil, faults.New(faults.Validation, "booking may only be withdrawn to cancelled or expired")
	}
	bk, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if id.Role != models.RoleAdmin && bk.RiderID != id.AccountID {
		return nil, faults.New(faults.Forbidden, "booking belongs to another account")
	}
	if bk.Status != models.BookingPending {
		return nil, faults.Newf(faults.InvalidState, "booking is %s, not pending", bk.Status)
	}
	return s.Store.FinishPendingBooking(ctx, bookingID, to, s.Now())
}

// Listing is an open ride joined with its display total.
type Listing struct {
	Ride              models.Ride `json:"ride"`
	DisplayTotalCents int64       `json:"display_total_cents"`
}

// ListOpen returns rides available to act on: OPEN status and no accepted
// booking, the two predicates applied together in the store query. Display
// totals all come from the single fare precedence rule.
func (s *Service) ListOpen(ctx context.Context) ([]Listing, error) {
	rides, err := s.Store.ListOpenRides(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(rides))
	for i := range rides {
		out = append(out, Listing{
			Ride:              rides[i],
			DisplayTotalCents: fare.DisplayTotalCents(s.Pricing, &rides[i], nil),
		})
	}
	return out, nil
}

// Receipt is the settled view of a completed ride.
type Receipt struct {
	RideID          string             `json:"ride_id"`
	CompletedAt     time.Time          `json:"completed_at"`
	PaymentType     models.PaymentType `json:"payment_type,omitempty"`
	BaseAmountCents int64              `json:"base_amount_cents"`
	DiscountCents   int64              `json:"discount_cents"`
	TotalCents      int64              `json:"total_cents"`
	Currency        string             `json:"currency"`
}

// BuildReceipt assembles the receipt for a completed ride from the booking
// snapshot. With send set, a receipt.requested event is published for the
// notifier to deliver by email.
func (s *Service) BuildReceipt(ctx context.Context, rideID string, id models.Identity, send bool) (*Receipt, error) {
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	bk, err := s.Store.AcceptedBooking(ctx, rideID)
	if err != nil && faults.KindOf(err) != faults.NotFound {
		return nil, err
	}
	party := ride.DriverID == id.AccountID || (bk != nil && bk.RiderID == id.AccountID)
	if id.Role != models.RoleAdmin && !party {
		return nil, faults.New(faults.Forbidden, "not a party to this ride")
	}
	if ride.Status != models.RideCompleted || ride.TotalPriceCents == nil {
		return nil, faults.New(faults.InvalidState, "ride is not completed")
	}
	r := &Receipt{
		RideID:      rideID,
		CompletedAt: *ride.TripCompletedAt,
		TotalCents:  *ride.TotalPriceCents,
		Currency:    "USD",
	}
	if bk != nil {
		r.PaymentType = bk.PaymentType
		r.BaseAmountCents = bk.BaseAmountCents
		r.DiscountCents = bk.DiscountCents
		r.Currency = bk.Currency
	} else {
		r.BaseAmountCents = r.TotalCents
	}
	if send {
		s.publish(ctx, models.Event{
			ID:          uuid.NewString(),
			Kind:        models.EventReceiptRequested,
			RideID:      rideID,
			AccountID:   id.AccountID,
			Email:       id.Email,
			AmountCents: r.TotalCents,
			OccurredAt:  s.Now(),
		})
	}
	return r, nil
}

func (s *Service) requireDriver(ride *models.Ride, id models.Identity) error {
	if id.Role == models.RoleAdmin {
		return nil
	}
	if id.Role != models.RoleDriver {
		return faults.New(faults.Forbidden, "driver role required")
	}
	if ride.DriverID != id.AccountID {
		return faults.New(faults.Forbidden, "ride belongs to another driver")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev models.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		s.Logger.Error("event publish failed", "kind", ev.Kind, "ride_id", ev.RideID, "error", err)
	}
}

func validPayment(payment models.PaymentType, cashDiscountBps int64) error {
	if payment != models.PaymentCard && payment != models.PaymentCash {
		return faults.New(faults.Validation, "payment type must be card or cash")
	}
	if cashDiscountBps < 0 || cashDiscountBps > 10000 {
		return faults.New(faults.Validation, "cash discount must be between 0 and 10000 basis points")
	}
	return nil
}
