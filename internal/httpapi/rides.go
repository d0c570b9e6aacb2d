package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/distance"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

type postRideRequest struct {
	Origin        string       `json:"origin"`
	Destination   string       `json:"destination"`
	OriginCoord   models.Coord `json:"origin_coord"`
	DestCoord     models.Coord `json:"destination_coord"`
	DistanceMiles float64      `json:"distance_miles"`
	DepartureAt   string       `json:"departure_at"`
	Passengers    int          `json:"passengers"`
}

func (s *Server) handlePostRide(w http.ResponseWriter, r *http.Request) {
	var req postRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, faults.Wrap(faults.Validation, "malformed request body", err))
		return
	}
	departure, err := time.Parse(time.RFC3339, req.DepartureAt)
	if err != nil {
		writeErr(w, faults.Wrap(faults.Validation, "departure time is unparsable", err))
		return
	}

	miles := req.DistanceMiles
	if miles <= 0 {
		// fall back to the external distance collaborator
		est, err := s.Distance.Miles(r.Context(), req.OriginCoord, req.DestCoord)
		if err != nil {
			writeErr(w, err)
			return
		}
		miles = est
	}
	if err := distance.Validate(miles); err != nil {
		writeErr(w, err)
		return
	}

	ride, err := s.Lifecycle.Post(r.Context(), identityFromContext(r.Context()), models.Ride{
		OriginText:      req.Origin,
		DestinationText: req.Destination,
		Origin:          req.OriginCoord,
		Destination:     req.DestCoord,
		DistanceMiles:   miles,
		DepartureAt:     departure,
		Passengers:      req.Passengers,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusCreated, ride)
}

func (s *Server) handleListOpen(w http.ResponseWriter, r *http.Request) {
	listings, err := s.Lifecycle.ListOpen(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, listings)
}

type bookingRequest struct {
	PaymentType     models.PaymentType `json:"payment_type"`
	CashDiscountBps *int64             `json:"cash_discount_bps,omitempty"`
}

func (s *Server) bookingTerms(req bookingRequest) (models.PaymentType, int64) {
	bps := int64(0)
	if req.PaymentType == models.PaymentCash {
		bps = s.Cfg.DefaultDiscountBps
	}
	if req.CashDiscountBps != nil {
		bps = *req.CashDiscountBps
	}
	return req.PaymentType, bps
}

func (s *Server) handleRequestBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, faults.Wrap(faults.Validation, "malformed request body", err))
		return
	}
	payment, bps := s.bookingTerms(req)
	b, err := s.Lifecycle.Request(r.Context(), mux.Vars(r)["id"], identityFromContext(r.Context()), payment, bps)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusCreated, b)
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, faults.Wrap(faults.Validation, "malformed request body", err))
		return
	}
	payment, bps := s.bookingTerms(req)
	b, err := s.Lifecycle.Accept(r.Context(), mux.Vars(r)["id"], identityFromContext(r.Context()), payment, bps)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, b)
}

func (s *Server) handleStartTrip(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Lifecycle.StartTrip(r.Context(), mux.Vars(r)["id"], identityFromContext(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, ride)
}

type completeTripRequest struct {
	MeasuredMiles     float64 `json:"measured_miles"`
	MeasuredFareCents int64   `json:"measured_fare_cents"`
}

func (s *Server) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	var req completeTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, faults.Wrap(faults.Validation, "malformed request body", err))
		return
	}
	ride, err := s.Lifecycle.CompleteTrip(r.Context(), mux.Vars(r)["id"], identityFromContext(r.Context()), req.MeasuredMiles, req.MeasuredFareCents)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, ride)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Lifecycle.Cancel(r.Context(), mux.Vars(r)["id"], identityFromContext(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, ride)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	send := r.URL.Query().Get("send") == "true"
	receipt, err := s.Lifecycle.BuildReceipt(r.Context(), mux.Vars(r)["id"], identityFromContext(r.Context()), send)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, receipt)
}

type withdrawRequest struct {
	To models.BookingStatus `json:"to"` // cancelled or expired
}

func (s *Server) handleWithdrawBooking(w http.ResponseWriter, r *http.Request) {
	req := withdrawRequest{To: models.BookingCancelled}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, faults.Wrap(faults.Validation, "malformed request body", err))
			return
		}
	}
	b, err := s.Lifecycle.WithdrawBooking(r.Context(), mux.Vars(r)["id"], identityFromContext(r.Context()), req.To)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, b)
}
