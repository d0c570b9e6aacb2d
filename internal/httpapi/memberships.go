package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/identity"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

func (s *Server) handleMyMembership(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	d, err := s.Gate.Check(r.Context(), id.AccountID, id.Role, true)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, d)
}

func (s *Server) handleStartTrial(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	rec, err := s.Gate.StartTrial(r.Context(), id.AccountID, id.Role)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusCreated, rec)
}

type purchaseRequest struct {
	Days        int   `json:"days"`
	AmountCents int64 `json:"amount_cents"`
}

// handlePurchaseMembership charges the account and applies the paid
// extension. The charge happens first; a failed charge grants nothing.
func (s *Server) handlePurchaseMembership(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, faults.Wrap(faults.Validation, "malformed request body", err))
		return
	}
	if req.AmountCents <= 0 {
		writeErr(w, faults.New(faults.Validation, "amount must be positive"))
		return
	}
	id := identityFromContext(r.Context())
	chargeID, err := s.Charger.Charge(r.Context(), req.AmountCents, "usd", id.AccountID)
	if err != nil {
		writeErr(w, err)
		return
	}
	rec, err := s.Gate.Extend(r.Context(), id.AccountID, id.Role, req.Days, req.AmountCents)
	if err != nil {
		s.logger.Error("membership extend failed after charge", "account_id", id.AccountID, "charge_id", chargeID, "error", err)
		writeErr(w, err)
		return
	}
	s.publishMembershipEvent(r, id, req.AmountCents)
	writeOK(w, http.StatusOK, rec)
}

type adminExtendRequest struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
	Days      int    `json:"days"`
}

// handleAdminExtend is the privileged extension. Repeated calls are
// cumulative by design; dedupe belongs to the admin tooling.
func (s *Server) handleAdminExtend(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	if id.Role != models.RoleAdmin {
		writeErr(w, faults.New(faults.Forbidden, "admin role required"))
		return
	}
	var req adminExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, faults.Wrap(faults.Validation, "malformed request body", err))
		return
	}
	role := identity.NormalizeRole(req.Role)
	if role == "" || req.AccountID == "" {
		writeErr(w, faults.New(faults.Validation, "account_id and role are required"))
		return
	}
	rec, err := s.Gate.Extend(r.Context(), req.AccountID, role, req.Days, 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, rec)
}

func (s *Server) publishMembershipEvent(r *http.Request, id models.Identity, amountCents int64) {
	if s.Lifecycle == nil || s.Lifecycle.Events == nil {
		return
	}
	ev := models.Event{
		ID:          newID(),
		Kind:        models.EventMembershipExtended,
		AccountID:   id.AccountID,
		Email:       id.Email,
		AmountCents: amountCents,
		OccurredAt:  s.Lifecycle.Now(),
	}
	if err := s.Lifecycle.Events.Publish(r.Context(), ev); err != nil {
		s.logger.Error("event publish failed", "kind", ev.Kind, "account_id", id.AccountID, "error", err)
	}
}
