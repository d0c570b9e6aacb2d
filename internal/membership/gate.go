package membership

import (
	"context"
	"time"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

// State is the gate's view of an account's membership standing.
type State string

const (
	StateNone       State = "none"
	StateTrial      State = "trial"
	StateActivePaid State = "active_paid"
	StateExpired    State = "expired"
)

// Decision is the gate outcome for one (account, operation) check.
type Decision struct {
	State   State  `json:"state"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Store is the persistence surface the gate needs. ExtendMembership must be
// atomic per (account, type): read the latest row and write the new expiry in
// one transaction.
type Store interface {
	LatestMembership(ctx context.Context, accountID string, typ models.MembershipType) (*models.Membership, error)
	ExtendMembership(ctx context.Context, accountID string, typ models.MembershipType, days int, paidCents int64, now time.Time) (*models.Membership, error)
}

// Gate decides whether an account may perform membership-gated lifecycle
// actions. Evaluation is pure over the latest membership row and a clock.
type Gate struct {
	Store     Store
	Now       func() time.Time
	TrialDays int
}

func NewGate(store Store, trialDays int) *Gate {
	return &Gate{Store: store, Now: time.Now, TrialDays: trialDays}
}

// Evaluate classifies a membership row at an instant. A missing expiry fails
// closed as EXPIRED regardless of payment.
func Evaluate(rec *models.Membership, now time.Time, allowTrial bool) Decision {
	if rec == nil {
		return Decision{State: StateNone, Reason: "no membership"}
	}
	if rec.ExpiryDate == nil {
		return Decision{State: StateExpired, Reason: "membership has no expiry"}
	}
	if !rec.ExpiryDate.After(now) {
		return Decision{State: StateExpired, Reason: "membership expired"}
	}
	if rec.AmountPaidCents > 0 {
		return Decision{State: StateActivePaid, Allowed: true}
	}
	if allowTrial {
		return Decision{State: StateTrial, Allowed: true}
	}
	return Decision{State: StateTrial, Reason: "trial membership is not sufficient for this action"}
}

// Check loads the latest row for the caller's role and evaluates it.
func (g *Gate) Check(ctx context.Context, accountID string, role models.Role, allowTrial bool) (Decision, error) {
	rec, err := g.Store.LatestMembership(ctx, accountID, models.MembershipTypeForRole(role))
	if err != nil {
		return Decision{}, err
	}
	return Evaluate(rec, g.Now(), allowTrial), nil
}

// Authorize is Check collapsed to the error the lifecycle services want:
// nil on allow, Forbidden carrying the denial reason otherwise.
func (g *Gate) Authorize(ctx context.Context, id models.Identity, allowTrial bool) error {
	d, err := g.Check(ctx, id.AccountID, id.Role, allowTrial)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return faults.New(faults.Forbidden, d.Reason)
	}
	return nil
}

// Extend moves the account's expiry forward by days from max(now, current
// expiry), creating a trial row when none exists. Repeated calls are
// cumulative on purpose; dedupe belongs to the caller.
func (g *Gate) Extend(ctx context.Context, accountID string, role models.Role, days int, paidCents int64) (*models.Membership, error) {
	if days <= 0 {
		return nil, faults.New(faults.Validation, "extension days must be positive")
	}
	if paidCents < 0 {
		return nil, faults.New(faults.Validation, "amount paid must not be negative")
	}
	return g.Store.ExtendMembership(ctx, accountID, models.MembershipTypeForRole(role), days, paidCents, g.Now())
}

// StartTrial grants the configured trial window as an unpaid extension.
func (g *Gate) StartTrial(ctx context.Context, accountID string, role models.Role) (*models.Membership, error) {
	existing, err := g.Store.LatestMembership(ctx, accountID, models.MembershipTypeForRole(role))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, faults.New(faults.Conflict, "membership already exists for this account")
	}
	return g.Extend(ctx, accountID, role, g.TrialDays, 0)
}

// NextExpiry is the extension rule shared by every store implementation:
// never move backward, always add from whichever of now/current is later.
func NextExpiry(current *time.Time, now time.Time, days int) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.AddDate(0, 0, days)
}
