package lifecycle_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/fare"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/lifecycle"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/membership"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/storage"
)

type capturePublisher struct {
	mu  sync.Mutex
	evs []models.Event
}

func (c *capturePublisher) Publish(ctx context.Context, ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
	return nil
}

func (c *capturePublisher) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.evs))
	for _, ev := range c.evs {
		out = append(out, ev.Kind)
	}
	return out
}

var (
	driver = models.Identity{AccountID: "drv-1", Role: models.RoleDriver}
	rider  = models.Identity{AccountID: "rid-1", Role: models.RoleRider}
)

func newTestService(t *testing.T) (*lifecycle.Service, *storage.MemoryStore, *capturePublisher) {
	t.Helper()
	store := storage.NewMemoryStore()
	gate := membership.NewGate(store, 30)
	pub := &capturePublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := lifecycle.NewService(store, gate, fare.DefaultPricing, pub, logger)
	return svc, store, pub
}

func grant(t *testing.T, store *storage.MemoryStore, id models.Identity) {
	t.Helper()
	if _, err := store.ExtendMembership(context.Background(), id.AccountID, models.MembershipTypeForRole(id.Role), 30, 0, time.Now()); err != nil {
		t.Fatalf("grant membership: %v", err)
	}
}

func postRide(t *testing.T, svc *lifecycle.Service, miles float64) *models.Ride {
	t.Helper()
	ride, err := svc.Post(context.Background(), driver, models.Ride{
		OriginText:      "12 Oak St",
		DestinationText: "90 Pine Ave",
		DistanceMiles:   miles,
		DepartureAt:     time.Now().Add(time.Hour),
		Passengers:      2,
	})
	if err != nil {
		t.Fatalf("post ride: %v", err)
	}
	return ride
}

func TestPostValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	cases := []models.Ride{
		{DistanceMiles: 0, DepartureAt: time.Now(), Passengers: 1},
		{DistanceMiles: -3, DepartureAt: time.Now(), Passengers: 1},
		{DistanceMiles: 5, DepartureAt: time.Now(), Passengers: 0},
		{DistanceMiles: 5, DepartureAt: time.Now(), Passengers: 7},
		{DistanceMiles: 5, Passengers: 2},
	}
	for i, r := range cases {
		if _, err := svc.Post(ctx, driver, r); faults.KindOf(err) != faults.Validation {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if _, err := svc.Post(ctx, rider, models.Ride{DistanceMiles: 5, DepartureAt: time.Now(), Passengers: 1}); faults.KindOf(err) != faults.Forbidden {
		t.Fatalf("rider should not post rides, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	svc, store, pub := newTestService(t)
	grant(t, store, rider)
	ctx := context.Background()

	ride := postRide(t, svc, 10)
	bk, err := svc.Accept(ctx, ride.ID, rider, models.PaymentCash, 1000)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	// $3.00 + $2.00 * 10mi = 2300, minus 10% cash discount
	if bk.BaseAmountCents != 2300 || bk.DiscountCents != 230 || bk.FinalAmountCents != 2070 {
		t.Fatalf("unexpected snapshot: %+v", bk)
	}

	if _, err := svc.StartTrip(ctx, ride.ID, driver); err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := svc.CompleteTrip(ctx, ride.ID, driver, 9.4, 1880)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.RideCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.TripStartedAt == nil || done.TripCompletedAt == nil {
		t.Fatal("trip timestamps must be set")
	}
	if done.TripCompletedAt.Before(*done.TripStartedAt) {
		t.Fatal("completion must not precede start")
	}
	if done.TotalPriceCents == nil || *done.TotalPriceCents != 2070 {
		t.Fatalf("settlement must use the snapshot, got %v", done.TotalPriceCents)
	}
	if kinds := pub.kinds(); len(kinds) != 1 || kinds[0] != models.EventRideCompleted {
		t.Fatalf("expected one ride.completed event, got %v", kinds)
	}
}

func TestAcceptRequiresMembership(t *testing.T) {
	svc, _, _ := newTestService(t)
	ride := postRide(t, svc, 5)
	_, err := svc.Accept(context.Background(), ride.ID, rider, models.PaymentCard, 0)
	if faults.KindOf(err) != faults.Forbidden {
		t.Fatalf("expected forbidden without membership, got %v", err)
	}
}

func TestAcceptConflictOnSecondAttempt(t *testing.T) {
	svc, store, _ := newTestService(t)
	grant(t, store, rider)
	other := models.Identity{AccountID: "rid-2", Role: models.RoleRider}
	grant(t, store, other)

	ride := postRide(t, svc, 5)
	if _, err := svc.Accept(context.Background(), ride.ID, rider, models.PaymentCard, 0); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err := svc.Accept(context.Background(), ride.ID, other, models.PaymentCard, 0)
	if k := faults.KindOf(err); k != faults.Conflict && k != faults.InvalidState {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	svc, store, _ := newTestService(t)
	ride := postRide(t, svc, 8)

	const n = 16
	ids := make([]models.Identity, n)
	for i := range ids {
		ids[i] = models.Identity{AccountID: "rid-" + string(rune('a'+i)), Role: models.RoleRider}
		grant(t, store, ids[i])
	}

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id models.Identity) {
			defer wg.Done()
			_, err := svc.Accept(context.Background(), ride.ID, id, models.PaymentCard, 0)
			results <- err
		}(ids[i])
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		if k := faults.KindOf(err); k != faults.Conflict && k != faults.InvalidState {
			t.Fatalf("loser should see conflict, got %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	bk, err := store.AcceptedBooking(context.Background(), ride.ID)
	if err != nil || bk == nil {
		t.Fatalf("expected one accepted booking, got %v", err)
	}
}

func TestCompleteFallsBackToMeasuredFare(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	// ride accepted out of band with no booking snapshot
	now := time.Now()
	ride := &models.Ride{
		ID: "ride-x", DriverID: driver.AccountID, DistanceMiles: 10,
		DepartureAt: now, Passengers: 1, Status: models.RideAccepted,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateRide(ctx, ride); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.StartTrip(ctx, ride.ID, driver); err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := svc.CompleteTrip(ctx, ride.ID, driver, 9.0, 8700)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.TotalPriceCents == nil || *done.TotalPriceCents != 8700 {
		t.Fatalf("expected measured fallback 8700, got %v", done.TotalPriceCents)
	}
}

func TestStartTripInvalidFromOpen(t *testing.T) {
	svc, _, _ := newTestService(t)
	ride := postRide(t, svc, 5)
	_, err := svc.StartTrip(context.Background(), ride.ID, driver)
	if faults.KindOf(err) != faults.InvalidState {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestRequestBookingAndCancelCascade(t *testing.T) {
	svc, store, _ := newTestService(t)
	grant(t, store, rider)
	ctx := context.Background()

	ride := postRide(t, svc, 5)
	bk, err := svc.Request(ctx, ride.ID, rider, models.PaymentCash, 500)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if bk.Status != models.BookingPending {
		t.Fatalf("expected pending booking, got %s", bk.Status)
	}

	if _, err := svc.Cancel(ctx, ride.ID, driver); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := store.GetBooking(ctx, bk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.BookingCancelled {
		t.Fatalf("cancel must cascade to bookings, got %s", got.Status)
	}

	// terminal: cancelling again is invalid
	if _, err := svc.Cancel(ctx, ride.ID, driver); faults.KindOf(err) != faults.InvalidState {
		t.Fatalf("expected invalid state on double cancel, got %v", err)
	}
}

func TestAcceptPromotesPendingBooking(t *testing.T) {
	svc, store, _ := newTestService(t)
	grant(t, store, rider)
	ctx := context.Background()

	ride := postRide(t, svc, 5)
	pending, err := svc.Request(ctx, ride.ID, rider, models.PaymentCash, 1000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	accepted, err := svc.Accept(ctx, ride.ID, rider, models.PaymentCash, 1000)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.ID != pending.ID {
		t.Fatalf("expected pending booking %s to be promoted, got %s", pending.ID, accepted.ID)
	}
	if accepted.Status != models.BookingAccepted || accepted.FinalAmountCents == 0 {
		t.Fatalf("promotion must freeze the snapshot: %+v", accepted)
	}
}

func TestAcceptPromotionReplacesPaymentTerms(t *testing.T) {
	svc, store, _ := newTestService(t)
	grant(t, store, rider)
	ctx := context.Background()

	ride := postRide(t, svc, 10)
	pending, err := svc.Request(ctx, ride.ID, rider, models.PaymentCash, 1000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// the rider changes their mind at acceptance: card, no discount
	accepted, err := svc.Accept(ctx, ride.ID, rider, models.PaymentCard, 0)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.ID != pending.ID {
		t.Fatalf("expected promotion of %s, got %s", pending.ID, accepted.ID)
	}

	// the persisted snapshot must carry the acceptance terms, not the
	// pending row's: a card fare with a cash discount would self-contradict
	got, err := store.GetBooking(ctx, accepted.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PaymentType != models.PaymentCard {
		t.Fatalf("expected card payment on promoted booking, got %s", got.PaymentType)
	}
	if got.CashDiscountBps != 0 || got.DiscountCents != 0 {
		t.Fatalf("expected no discount terms, got bps=%d discount=%d", got.CashDiscountBps, got.DiscountCents)
	}
	if got.BaseAmountCents != 2300 || got.FinalAmountCents != 2300 {
		t.Fatalf("expected full card fare 2300, got %+v", got)
	}
}

type failingPendingStore struct {
	*storage.MemoryStore
	err error
}

func (f *failingPendingStore) PendingBooking(ctx context.Context, rideID, riderID string) (*models.Booking, error) {
	return nil, f.err
}

func TestAcceptPropagatesPendingLookupFailure(t *testing.T) {
	mem := storage.NewMemoryStore()
	gate := membership.NewGate(mem, 30)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &failingPendingStore{MemoryStore: mem, err: faults.New(faults.Transient, "store unavailable")}
	svc := lifecycle.NewService(store, gate, fare.DefaultPricing, &capturePublisher{}, logger)

	grant(t, mem, rider)
	ride := postRide(t, svc, 5)

	_, err := svc.Accept(context.Background(), ride.ID, rider, models.PaymentCard, 0)
	if faults.KindOf(err) != faults.Transient {
		t.Fatalf("expected the lookup failure to surface, got %v", err)
	}
	// the ride must not have been claimed with a fresh booking
	got, err := mem.GetRide(context.Background(), ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RideOpen {
		t.Fatalf("ride must stay open, got %s", got.Status)
	}
}

func TestWithdrawBooking(t *testing.T) {
	svc, store, _ := newTestService(t)
	grant(t, store, rider)
	ctx := context.Background()

	ride := postRide(t, svc, 5)
	bk, err := svc.Request(ctx, ride.ID, rider, models.PaymentCard, 0)
	if err != nil {
		t.Fatal(err)
	}
	stranger := models.Identity{AccountID: "rid-9", Role: models.RoleRider}
	if _, err := svc.WithdrawBooking(ctx, bk.ID, stranger, models.BookingCancelled); faults.KindOf(err) != faults.Forbidden {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}
	got, err := svc.WithdrawBooking(ctx, bk.ID, rider, models.BookingCancelled)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.BookingCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestListOpenAppliesBothPredicates(t *testing.T) {
	svc, store, _ := newTestService(t)
	grant(t, store, rider)
	ctx := context.Background()

	open := postRide(t, svc, 5)
	taken := postRide(t, svc, 7)
	if _, err := svc.Accept(ctx, taken.ID, rider, models.PaymentCard, 0); err != nil {
		t.Fatal(err)
	}

	listings, err := svc.ListOpen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(listings) != 1 || listings[0].Ride.ID != open.ID {
		t.Fatalf("expected only the open ride, got %+v", listings)
	}
	if listings[0].DisplayTotalCents != 1300 {
		t.Fatalf("display total must come from the quote, got %d", listings[0].DisplayTotalCents)
	}
}

func TestReceiptFromSnapshot(t *testing.T) {
	svc, store, pub := newTestService(t)
	grant(t, store, rider)
	ctx := context.Background()

	ride := postRide(t, svc, 10)
	if _, err := svc.Accept(ctx, ride.ID, rider, models.PaymentCash, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.StartTrip(ctx, ride.ID, driver); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CompleteTrip(ctx, ride.ID, driver, 10, 0); err != nil {
		t.Fatal(err)
	}

	r, err := svc.BuildReceipt(ctx, ride.ID, rider, true)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if r.TotalCents != 2070 || r.BaseAmountCents != 2300 || r.DiscountCents != 230 {
		t.Fatalf("unexpected receipt: %+v", r)
	}
	found := false
	for _, k := range pub.kinds() {
		if k == models.EventReceiptRequested {
			found = true
		}
	}
	if !found {
		t.Fatal("expected receipt.requested event")
	}

	stranger := models.Identity{AccountID: "rid-z", Role: models.RoleRider}
	if _, err := svc.BuildReceipt(ctx, ride.ID, stranger, false); faults.KindOf(err) != faults.Forbidden {
		t.Fatalf("expected forbidden for non-party, got %v", err)
	}
}
