package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/chat"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/lifecycle"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/membership"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

// MemoryStore is the in-process fallback store used for local runs and
// tests. A single mutex gives it the same atomicity the postgres store gets
// from conditional updates.
type MemoryStore struct {
	mu            sync.Mutex
	rides         map[string]*models.Ride
	bookings      map[string]*models.Booking
	memberships   map[string][]*models.Membership // accountID|type -> rows, newest last
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message // conversationID -> ordered
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:         make(map[string]*models.Ride),
		bookings:      make(map[string]*models.Booking),
		memberships:   make(map[string][]*models.Membership),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

func memberKey(accountID string, typ models.MembershipType) string {
	return accountID + "|" + string(typ)
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, faults.New(faults.NotFound, "ride not found")
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListOpenRides(ctx context.Context) ([]models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if r.Status != models.RideOpen {
			continue
		}
		if m.acceptedBookingLocked(r.ID) != nil {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.Before(out[j].DepartureAt) })
	return out, nil
}

func (m *MemoryStore) acceptedBookingLocked(rideID string) *models.Booking {
	for _, b := range m.bookings {
		if b.RideID == rideID && b.Status == models.BookingAccepted {
			return b
		}
	}
	return nil
}

func (m *MemoryStore) AcceptRide(ctx context.Context, rideID string, b *models.Booking, conv *models.Conversation, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return faults.New(faults.NotFound, "ride not found")
	}
	if r.Status != models.RideOpen {
		return faults.Newf(faults.Conflict, "ride already %s", r.Status)
	}
	if m.acceptedBookingLocked(rideID) != nil {
		return faults.New(faults.Conflict, "ride already has an accepted booking")
	}
	r.Status = models.RideAccepted
	r.UpdatedAt = now
	bc := *b
	bc.UpdatedAt = now
	m.bookings[b.ID] = &bc
	if conv != nil {
		cc := *conv
		m.conversations[conv.ID] = &cc
	}
	return nil
}

func (m *MemoryStore) StartRide(ctx context.Context, rideID string, now time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, faults.New(faults.NotFound, "ride not found")
	}
	if r.Status != models.RideAccepted {
		return nil, faults.Newf(faults.InvalidState, "ride is %s, not accepted", r.Status)
	}
	r.Status = models.RideInRoute
	if r.TripStartedAt == nil {
		t := now
		r.TripStartedAt = &t
	}
	r.UpdatedAt = now
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CompleteRide(ctx context.Context, rideID string, totalCents int64, now time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, faults.New(faults.NotFound, "ride not found")
	}
	if r.Status != models.RideInRoute {
		return nil, faults.Newf(faults.InvalidState, "ride is %s, not in route", r.Status)
	}
	r.Status = models.RideCompleted
	if r.TripCompletedAt == nil {
		t := now
		r.TripCompletedAt = &t
	}
	total := totalCents
	r.TotalPriceCents = &total
	r.UpdatedAt = now
	if b := m.acceptedBookingLocked(rideID); b != nil {
		b.Status = models.BookingCompleted
		b.UpdatedAt = now
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CancelRide(ctx context.Context, rideID string, now time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, faults.New(faults.NotFound, "ride not found")
	}
	if r.Status == models.RideCompleted || r.Status == models.RideCancelled {
		return nil, faults.Newf(faults.InvalidState, "ride is already %s", r.Status)
	}
	r.Status = models.RideCancelled
	r.UpdatedAt = now
	for _, b := range m.bookings {
		if b.RideID == rideID && (b.Status == models.BookingPending || b.Status == models.BookingAccepted) {
			b.Status = models.BookingCancelled
			b.UpdatedAt = now
		}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acceptedBookingLocked(b.RideID) != nil {
		return faults.New(faults.Conflict, "ride already has an accepted booking")
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, faults.New(faults.NotFound, "booking not found")
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) AcceptedBooking(ctx context.Context, rideID string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.acceptedBookingLocked(rideID); b != nil {
		cp := *b
		return &cp, nil
	}
	return nil, faults.New(faults.NotFound, "no accepted booking for ride")
}

func (m *MemoryStore) PendingBooking(ctx context.Context, rideID, riderID string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.RideID == rideID && b.RiderID == riderID && b.Status == models.BookingPending {
			cp := *b
			return &cp, nil
		}
	}
	return nil, faults.New(faults.NotFound, "no pending booking")
}

func (m *MemoryStore) FinishPendingBooking(ctx context.Context, bookingID string, to models.BookingStatus, now time.Time) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, faults.New(faults.NotFound, "booking not found")
	}
	if b.Status != models.BookingPending {
		return nil, faults.Newf(faults.InvalidState, "booking is %s, not pending", b.Status)
	}
	b.Status = to
	b.UpdatedAt = now
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) LatestMembership(ctx context.Context, accountID string, typ models.MembershipType) (*models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.memberships[memberKey(accountID, typ)]
	if len(rows) == 0 {
		return nil, nil
	}
	cp := *rows[len(rows)-1]
	return &cp, nil
}

func (m *MemoryStore) ExtendMembership(ctx context.Context, accountID string, typ models.MembershipType, days int, paidCents int64, now time.Time) (*models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(accountID, typ)
	rows := m.memberships[key]
	if len(rows) == 0 {
		exp := membership.NextExpiry(nil, now, days)
		rec := &models.Membership{
			ID:              uuid.NewString(),
			AccountID:       accountID,
			Type:            typ,
			Status:          "active",
			StartDate:       now,
			ExpiryDate:      &exp,
			AmountPaidCents: paidCents,
		}
		m.memberships[key] = append(rows, rec)
		cp := *rec
		return &cp, nil
	}
	rec := rows[len(rows)-1]
	exp := membership.NextExpiry(rec.ExpiryDate, now, days)
	rec.ExpiryDate = &exp
	rec.Status = "active"
	if paidCents > 0 {
		rec.AmountPaidCents = paidCents
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.conversations[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, faults.New(faults.NotFound, "conversation not found")
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return faults.New(faults.NotFound, "conversation not found")
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) CountUnread(ctx context.Context, conversationID string, after time.Time, excludeSender string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages[conversationID] {
		if msg.CreatedAt.After(after) && msg.SenderID != excludeSender {
			n++
		}
	}
	return n, nil
}

// AdvanceWatermark moves a party's last-read forward, never backward.
func (m *MemoryStore) AdvanceWatermark(ctx context.Context, conversationID string, party models.Role, now time.Time) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, faults.New(faults.NotFound, "conversation not found")
	}
	target := &c.RiderLastReadAt
	if party == models.RoleDriver {
		target = &c.DriverLastReadAt
	}
	cur := c.CreatedAt
	if *target != nil {
		cur = **target
	}
	if now.After(cur) {
		t := now
		*target = &t
	}
	cp := *c
	return &cp, nil
}

var _ lifecycle.Store = (*MemoryStore)(nil)
var _ membership.Store = (*MemoryStore)(nil)
var _ chat.Store = (*MemoryStore)(nil)
