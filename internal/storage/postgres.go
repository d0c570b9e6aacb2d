package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/chat"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/lifecycle"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/membership"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

var (
	_ lifecycle.Store  = (*PostgresStore)(nil)
	_ membership.Store = (*PostgresStore)(nil)
	_ chat.Store       = (*PostgresStore)(nil)
)

// PostgresStore persists the marketplace in a relational store. Every
// transition that read-checks a uniqueness invariant runs as a conditional
// UPDATE or inside one transaction, never as read-then-write in Go.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

const rideColumns = `id, driver_id, origin_text, destination_text, origin_lat, origin_lon,
	dest_lat, dest_lon, distance_miles, departure_at, passengers, status,
	trip_started_at, trip_completed_at, total_price_cents, created_at, updated_at`

func scanRide(row interface{ Scan(...any) error }) (*models.Ride, error) {
	var r models.Ride
	var started, completed sql.NullTime
	var total sql.NullInt64
	err := row.Scan(&r.ID, &r.DriverID, &r.OriginText, &r.DestinationText,
		&r.Origin.Lat, &r.Origin.Lon, &r.Destination.Lat, &r.Destination.Lon,
		&r.DistanceMiles, &r.DepartureAt, &r.Passengers, &r.Status,
		&started, &completed, &total, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		r.TripStartedAt = &started.Time
	}
	if completed.Valid {
		r.TripCompletedAt = &completed.Time
	}
	if total.Valid {
		r.TotalPriceCents = &total.Int64
	}
	return &r, nil
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides
		(id, driver_id, origin_text, destination_text, origin_lat, origin_lon,
		 dest_lat, dest_lon, distance_miles, departure_at, passengers, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.DriverID, r.OriginText, r.DestinationText, r.Origin.Lat, r.Origin.Lon,
		r.Destination.Lat, r.Destination.Lon, r.DistanceMiles, r.DepartureAt,
		r.Passengers, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var ride *models.Ride
	err := withRetry(ctx, func() error {
		r, err := scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id))
		if err != nil {
			return err
		}
		ride = r
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.New(faults.NotFound, "ride not found")
	}
	return ride, err
}

// ListOpenRides applies both availability predicates in one query: the ride
// status and the absence of an accepted booking. Checking only the status is
// a correctness bug during the narrow acceptance window.
func (p *PostgresStore) ListOpenRides(ctx context.Context) ([]models.Ride, error) {
	var out []models.Ride
	err := withRetry(ctx, func() error {
		rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides r
			WHERE r.status='open'
			  AND NOT EXISTS (SELECT 1 FROM bookings b WHERE b.ride_id=r.id AND b.status='accepted')
			ORDER BY r.departure_at`)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			r, err := scanRide(rows)
			if err != nil {
				return err
			}
			out = append(out, *r)
		}
		return rows.Err()
	})
	return out, err
}

// AcceptRide performs the acceptance atomically: the ride flips to accepted
// only while it is open and carries no accepted booking, and the booking,
// conversation, and ride rows commit together. Exactly one of two concurrent
// calls can see RowsAffected=1.
func (p *PostgresStore) AcceptRide(ctx context.Context, rideID string, b *models.Booking, conv *models.Conversation, now time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE rides SET status='accepted', updated_at=$2
		WHERE id=$1 AND status='open'
		  AND NOT EXISTS (SELECT 1 FROM bookings WHERE ride_id=$1 AND status='accepted')`,
		rideID, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id=$1)`, rideID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return faults.New(faults.NotFound, "ride not found")
		}
		return faults.New(faults.Conflict, "ride was accepted by another booking")
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO bookings
		(id, ride_id, rider_id, status, payment_type, cash_discount_bps,
		 base_amount_cents, discount_cents, final_amount_cents, currency, created_at, updated_at)
		VALUES ($1,$2,$3,'accepted',$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET status='accepted',
			payment_type=EXCLUDED.payment_type,
			cash_discount_bps=EXCLUDED.cash_discount_bps,
			base_amount_cents=EXCLUDED.base_amount_cents,
			discount_cents=EXCLUDED.discount_cents,
			final_amount_cents=EXCLUDED.final_amount_cents,
			updated_at=EXCLUDED.updated_at`,
		b.ID, b.RideID, b.RiderID, b.PaymentType, b.CashDiscountBps,
		b.BaseAmountCents, b.DiscountCents, b.FinalAmountCents, b.Currency, b.CreatedAt, now)
	if err != nil {
		return err
	}

	if conv != nil {
		_, err = tx.ExecContext(ctx, `INSERT INTO conversations
			(id, ride_id, driver_id, rider_id, created_at) VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (ride_id) DO NOTHING`,
			conv.ID, conv.RideID, conv.DriverID, conv.RiderID, conv.CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) StartRide(ctx context.Context, rideID string, now time.Time) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE rides
		SET status='in_route', trip_started_at=COALESCE(trip_started_at,$2), updated_at=$2
		WHERE id=$1 AND status='accepted'
		RETURNING `+rideColumns, rideID, now)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, p.transitionRefused(ctx, rideID, "start")
	}
	return r, err
}

func (p *PostgresStore) CompleteRide(ctx context.Context, rideID string, totalCents int64, now time.Time) (*models.Ride, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `UPDATE rides
		SET status='completed', trip_completed_at=COALESCE(trip_completed_at,$2),
		    total_price_cents=$3, updated_at=$2
		WHERE id=$1 AND status='in_route'
		RETURNING `+rideColumns, rideID, now, totalCents)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, p.transitionRefused(ctx, rideID, "complete")
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE bookings SET status='completed', updated_at=$2
		WHERE ride_id=$1 AND status='accepted'`, rideID, now); err != nil {
		return nil, err
	}
	return r, tx.Commit()
}

// CancelRide cancels any non-terminal ride and cascades its live bookings to
// cancelled in the same transaction.
func (p *PostgresStore) CancelRide(ctx context.Context, rideID string, now time.Time) (*models.Ride, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `UPDATE rides SET status='cancelled', updated_at=$2
		WHERE id=$1 AND status NOT IN ('completed','cancelled')
		RETURNING `+rideColumns, rideID, now)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, p.transitionRefused(ctx, rideID, "cancel")
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE bookings SET status='cancelled', updated_at=$2
		WHERE ride_id=$1 AND status IN ('pending','accepted')`, rideID, now); err != nil {
		return nil, err
	}
	return r, tx.Commit()
}

// transitionRefused re-reads the ride to turn a zero-row conditional update
// into the precise failure the caller should see.
func (p *PostgresStore) transitionRefused(ctx context.Context, rideID, op string) error {
	r, err := p.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	return faults.Newf(faults.InvalidState, "cannot %s ride in status %s", op, r.Status)
}

const bookingColumns = `id, ride_id, rider_id, status, payment_type, cash_discount_bps,
	base_amount_cents, discount_cents, final_amount_cents, currency, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.RideID, &b.RiderID, &b.Status, &b.PaymentType,
		&b.CashDiscountBps, &b.BaseAmountCents, &b.DiscountCents,
		&b.FinalAmountCents, &b.Currency, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBooking inserts a pending claim only while the ride has no accepted
// booking; the guard lives in the statement so two racing claims cannot both
// slip past an application-level check.
func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	res, err := p.db.ExecContext(ctx, `INSERT INTO bookings
		(id, ride_id, rider_id, status, payment_type, cash_discount_bps,
		 base_amount_cents, discount_cents, final_amount_cents, currency, created_at, updated_at)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
		WHERE NOT EXISTS (SELECT 1 FROM bookings WHERE ride_id=$2 AND status='accepted')`,
		b.ID, b.RideID, b.RiderID, b.Status, b.PaymentType, b.CashDiscountBps,
		b.BaseAmountCents, b.DiscountCents, b.FinalAmountCents, b.Currency, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return faults.New(faults.Conflict, "ride already has an accepted booking")
	}
	return nil
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var bk *models.Booking
	err := withRetry(ctx, func() error {
		b, err := scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
		if err != nil {
			return err
		}
		bk = b
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.New(faults.NotFound, "booking not found")
	}
	return bk, err
}

func (p *PostgresStore) AcceptedBooking(ctx context.Context, rideID string) (*models.Booking, error) {
	var bk *models.Booking
	err := withRetry(ctx, func() error {
		b, err := scanBooking(p.db.QueryRowContext(ctx,
			`SELECT `+bookingColumns+` FROM bookings WHERE ride_id=$1 AND status='accepted'`, rideID))
		if err != nil {
			return err
		}
		bk = b
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.New(faults.NotFound, "no accepted booking for ride")
	}
	return bk, err
}

func (p *PostgresStore) PendingBooking(ctx context.Context, rideID, riderID string) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE ride_id=$1 AND rider_id=$2 AND status='pending'
		ORDER BY created_at DESC LIMIT 1`, rideID, riderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.New(faults.NotFound, "no pending booking")
	}
	return b, err
}

func (p *PostgresStore) FinishPendingBooking(ctx context.Context, bookingID string, to models.BookingStatus, now time.Time) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE bookings SET status=$2, updated_at=$3
		WHERE id=$1 AND status='pending'
		RETURNING `+bookingColumns, bookingID, to, now)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		bk, gerr := p.GetBooking(ctx, bookingID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, faults.Newf(faults.InvalidState, "booking is %s, not pending", bk.Status)
	}
	return b, err
}

const membershipColumns = `id, account_id, type, plan, status, start_date, expiry_date, amount_paid_cents`

func scanMembership(row interface{ Scan(...any) error }) (*models.Membership, error) {
	var m models.Membership
	var plan sql.NullString
	var expiry sql.NullTime
	err := row.Scan(&m.ID, &m.AccountID, &m.Type, &plan, &m.Status, &m.StartDate, &expiry, &m.AmountPaidCents)
	if err != nil {
		return nil, err
	}
	m.Plan = plan.String
	if expiry.Valid {
		m.ExpiryDate = &expiry.Time
	}
	return &m, nil
}

func (p *PostgresStore) LatestMembership(ctx context.Context, accountID string, typ models.MembershipType) (*models.Membership, error) {
	var rec *models.Membership
	err := withRetry(ctx, func() error {
		m, err := scanMembership(p.db.QueryRowContext(ctx, `SELECT `+membershipColumns+` FROM memberships
			WHERE account_id=$1 AND type=$2 ORDER BY start_date DESC LIMIT 1`, accountID, typ))
		if err != nil {
			return err
		}
		rec = m
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ExtendMembership reads the latest row under lock and writes its new expiry
// in one transaction, so an extension is never half applied.
func (p *PostgresStore) ExtendMembership(ctx context.Context, accountID string, typ models.MembershipType, days int, paidCents int64, now time.Time) (*models.Membership, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cur, err := scanMembership(tx.QueryRowContext(ctx, `SELECT `+membershipColumns+` FROM memberships
		WHERE account_id=$1 AND type=$2 ORDER BY start_date DESC LIMIT 1 FOR UPDATE`, accountID, typ))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if cur == nil {
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
		_, err = tx.ExecContext(ctx, `INSERT INTO memberships
			(id, account_id, type, status, start_date, expiry_date, amount_paid_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			rec.ID, rec.AccountID, rec.Type, rec.Status, rec.StartDate, rec.ExpiryDate, rec.AmountPaidCents)
		if err != nil {
			return nil, err
		}
		return rec, tx.Commit()
	}

	exp := membership.NextExpiry(cur.ExpiryDate, now, days)
	cur.ExpiryDate = &exp
	cur.Status = "active"
	if paidCents > 0 {
		cur.AmountPaidCents = paidCents
	}
	_, err = tx.ExecContext(ctx, `UPDATE memberships SET expiry_date=$2, status='active', amount_paid_cents=$3
		WHERE id=$1`, cur.ID, exp, cur.AmountPaidCents)
	if err != nil {
		return nil, err
	}
	return cur, tx.Commit()
}

const conversationColumns = `id, ride_id, driver_id, rider_id, driver_last_read_at, rider_last_read_at, created_at`

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var c models.Conversation
	var driverRead, riderRead sql.NullTime
	err := row.Scan(&c.ID, &c.RideID, &c.DriverID, &c.RiderID, &driverRead, &riderRead, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if driverRead.Valid {
		c.DriverLastReadAt = &driverRead.Time
	}
	if riderRead.Valid {
		c.RiderLastReadAt = &riderRead.Time
	}
	return &c, nil
}

func (p *PostgresStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO conversations
		(id, ride_id, driver_id, rider_id, created_at) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (ride_id) DO NOTHING`,
		c.ID, c.RideID, c.DriverID, c.RiderID, c.CreatedAt)
	return err
}

func (p *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv *models.Conversation
	err := withRetry(ctx, func() error {
		c, err := scanConversation(p.db.QueryRowContext(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id))
		if err != nil {
			return err
		}
		conv = c
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.New(faults.NotFound, "conversation not found")
	}
	return conv, err
}

func (p *PostgresStore) AppendMessage(ctx context.Context, m *models.Message) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO messages
		(id, conversation_id, sender_id, body, created_at) VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.CreatedAt)
	return err
}

func (p *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, conversation_id, sender_id, body, created_at
		FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountUnread(ctx context.Context, conversationID string, after time.Time, excludeSender string) (int, error) {
	var n int
	err := withRetry(ctx, func() error {
		return p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages
			WHERE conversation_id=$1 AND created_at > $2 AND sender_id <> $3`,
			conversationID, after, excludeSender).Scan(&n)
	})
	return n, err
}

// AdvanceWatermark moves a party's last-read forward with GREATEST, so a
// stale writer can never pull it backward.
func (p *PostgresStore) AdvanceWatermark(ctx context.Context, conversationID string, party models.Role, now time.Time) (*models.Conversation, error) {
	col := "rider_last_read_at"
	if party == models.RoleDriver {
		col = "driver_last_read_at"
	}
	row := p.db.QueryRowContext(ctx, `UPDATE conversations
		SET `+col+` = GREATEST(COALESCE(`+col+`, created_at), $2)
		WHERE id=$1
		RETURNING `+conversationColumns, conversationID, now)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.New(faults.NotFound, "conversation not found")
	}
	return c, err
}
