package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/chat"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/config"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/distance"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/fare"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/identity"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/lifecycle"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/membership"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/payments"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/storage"
)

const apiTestSecret = "api-test-secret"

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, ev models.Event) error { return nil }

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	cfg := config.ServerConfig{
		JWTSecret:          apiTestSecret,
		BookingFeeCents:    300,
		PricePerMileCents:  200,
		DefaultDiscountBps: 1000,
		TrialDays:          30,
	}
	store := storage.NewMemoryStore()
	gate := membership.NewGate(store, cfg.TrialDays)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := lifecycle.NewService(store, gate, fare.Pricing{
		BookingFeeCents:   cfg.BookingFeeCents,
		PricePerMileCents: cfg.PricePerMileCents,
	}, nopPublisher{}, logger)
	reg := chat.NewRegistry()
	tracker := chat.NewTracker(store, reg)
	srv := New(cfg, svc, gate, tracker, reg, payments.NopCharger{}, identity.NewResolver(cfg.JWTSecret), distance.HaversineEstimator{}, logger)
	return srv, store
}

func token(t *testing.T, accountID, role string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account_id": accountID,
		"email":      accountID + "@example.com",
		"role":       role,
	}).SignedString([]byte(apiTestSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func doJSON(t *testing.T, srv *Server, method, path, bearer string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope from %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func dataField(t *testing.T, env envelope, key string) any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is not an object: %v", env.Data)
	}
	return m[key]
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, env := doJSON(t, srv, http.MethodGet, "/api/v1/rides/open", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if env.OK || env.Error == nil || env.Error.Code != "unauthenticated" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	drv := token(t, "drv-1", "driver")
	rid := token(t, "rid-1", "rider")

	if _, err := store.ExtendMembership(context.Background(), "rid-1", models.MembershipRider, 30, 999, time.Now()); err != nil {
		t.Fatal(err)
	}

	rec, env := doJSON(t, srv, http.MethodPost, "/api/v1/rides", drv, map[string]any{
		"origin":         "12 Oak St",
		"destination":    "90 Pine Ave",
		"distance_miles": 10,
		"departure_at":   time.Now().Add(time.Hour).Format(time.RFC3339),
		"passengers":     2,
	})
	if rec.Code != http.StatusCreated || !env.OK {
		t.Fatalf("post ride: %d %+v", rec.Code, env)
	}
	rideID, _ := dataField(t, env, "id").(string)
	if rideID == "" {
		t.Fatal("ride id missing from response")
	}

	rec, env = doJSON(t, srv, http.MethodGet, "/api/v1/rides/open", rid, nil)
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("list open: %d %+v", rec.Code, env)
	}
	listings, ok := env.Data.([]any)
	if !ok || len(listings) != 1 {
		t.Fatalf("expected one listing, got %v", env.Data)
	}

	rec, env = doJSON(t, srv, http.MethodPost, "/api/v1/rides/"+rideID+"/accept", rid, map[string]any{
		"payment_type": "cash",
	})
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("accept: %d %+v", rec.Code, env)
	}
	// default 10% cash discount on 300 + 200*10
	if v, _ := dataField(t, env, "final_amount_cents").(float64); v != 2070 {
		t.Fatalf("expected snapshot 2070, got %v", dataField(t, env, "final_amount_cents"))
	}

	rec, env = doJSON(t, srv, http.MethodPost, "/api/v1/rides/"+rideID+"/start", drv, nil)
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("start: %d %+v", rec.Code, env)
	}
	rec, env = doJSON(t, srv, http.MethodPost, "/api/v1/rides/"+rideID+"/complete", drv, map[string]any{
		"measured_miles": 9.4,
	})
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("complete: %d %+v", rec.Code, env)
	}
	if v, _ := dataField(t, env, "total_price_cents").(float64); v != 2070 {
		t.Fatalf("settlement must use the snapshot, got %v", dataField(t, env, "total_price_cents"))
	}

	rec, env = doJSON(t, srv, http.MethodGet, "/api/v1/rides/"+rideID+"/receipt", rid, nil)
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("receipt: %d %+v", rec.Code, env)
	}
	if v, _ := dataField(t, env, "total_cents").(float64); v != 2070 {
		t.Fatalf("receipt total, got %v", dataField(t, env, "total_cents"))
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	drv := token(t, "drv-1", "driver")
	rid := token(t, "rid-1", "rider")

	// validation: unparsable departure
	rec, env := doJSON(t, srv, http.MethodPost, "/api/v1/rides", drv, map[string]any{
		"origin": "a", "destination": "b", "distance_miles": 5,
		"departure_at": "next tuesday", "passengers": 1,
	})
	if rec.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != "validation" {
		t.Fatalf("expected 400 validation, got %d %+v", rec.Code, env)
	}

	// forbidden: rider has no membership
	_, env = doJSON(t, srv, http.MethodPost, "/api/v1/rides", drv, map[string]any{
		"origin": "a", "destination": "b", "distance_miles": 5,
		"departure_at": time.Now().Add(time.Hour).Format(time.RFC3339), "passengers": 1,
	})
	rideID, _ := dataField(t, env, "id").(string)
	rec, env = doJSON(t, srv, http.MethodPost, "/api/v1/rides/"+rideID+"/accept", rid, map[string]any{"payment_type": "card"})
	if rec.Code != http.StatusForbidden || env.Error == nil || env.Error.Code != "forbidden" {
		t.Fatalf("expected 403 forbidden, got %d %+v", rec.Code, env)
	}

	// not found
	rec, env = doJSON(t, srv, http.MethodPost, "/api/v1/rides/nope/start", drv, nil)
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != "not_found" {
		t.Fatalf("expected 404, got %d %+v", rec.Code, env)
	}

	// invalid state: starting an open ride
	rec, env = doJSON(t, srv, http.MethodPost, "/api/v1/rides/"+rideID+"/start", drv, nil)
	if rec.Code != http.StatusUnprocessableEntity || env.Error == nil || env.Error.Code != "invalid_state" {
		t.Fatalf("expected 422, got %d %+v", rec.Code, env)
	}
}

func TestMembershipEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	rid := token(t, "rid-1", "rider")

	rec, env := doJSON(t, srv, http.MethodGet, "/api/v1/memberships/me", rid, nil)
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("my membership: %d %+v", rec.Code, env)
	}
	if v, _ := dataField(t, env, "state").(string); v != "none" {
		t.Fatalf("expected state none, got %v", dataField(t, env, "state"))
	}

	rec, env = doJSON(t, srv, http.MethodPost, "/api/v1/memberships/trial", rid, nil)
	if rec.Code != http.StatusCreated || !env.OK {
		t.Fatalf("start trial: %d %+v", rec.Code, env)
	}

	rec, env = doJSON(t, srv, http.MethodGet, "/api/v1/memberships/me", rid, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("my membership: %d", rec.Code)
	}
	if v, _ := dataField(t, env, "state").(string); v != "trial" {
		t.Fatalf("expected state trial, got %v", dataField(t, env, "state"))
	}

	// second trial conflicts
	rec, env = doJSON(t, srv, http.MethodPost, "/api/v1/memberships/trial", rid, nil)
	if rec.Code != http.StatusConflict || env.Error == nil || env.Error.Code != "conflict" {
		t.Fatalf("expected 409, got %d %+v", rec.Code, env)
	}

	// admin extension is role-gated
	rec, _ = doJSON(t, srv, http.MethodPost, "/api/v1/admin/memberships/extend", rid, map[string]any{
		"account_id": "rid-2", "role": "rider", "days": 30,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}
	adm := token(t, "adm-1", "admin")
	rec, env = doJSON(t, srv, http.MethodPost, "/api/v1/admin/memberships/extend", adm, map[string]any{
		"account_id": "rid-2", "role": "rider", "days": 30,
	})
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("admin extend: %d %+v", rec.Code, env)
	}
}

func TestConversationEndpoints(t *testing.T) {
	srv, store := newTestServer(t)
	drv := token(t, "drv-1", "driver")
	rid := token(t, "rid-1", "rider")

	conv := &models.Conversation{
		ID: "conv-1", RideID: "ride-1",
		DriverID: "drv-1", RiderID: "rid-1",
		CreatedAt: time.Now().Add(-time.Minute),
	}
	if err := store.CreateConversation(context.Background(), conv); err != nil {
		t.Fatal(err)
	}

	rec, env := doJSON(t, srv, http.MethodPost, "/api/v1/conversations/conv-1/messages", drv, map[string]any{
		"body": "leaving now",
	})
	if rec.Code != http.StatusCreated || !env.OK {
		t.Fatalf("post message: %d %+v", rec.Code, env)
	}

	rec, env = doJSON(t, srv, http.MethodGet, "/api/v1/conversations/conv-1/unread", rid, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unread: %d", rec.Code)
	}
	if v, _ := dataField(t, env, "unread").(float64); v != 1 {
		t.Fatalf("expected 1 unread, got %v", env.Data)
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/api/v1/conversations/conv-1/read", rid, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read: %d", rec.Code)
	}
	_, env = doJSON(t, srv, http.MethodGet, "/api/v1/conversations/conv-1/unread", rid, nil)
	if v, _ := dataField(t, env, "unread").(float64); v != 0 {
		t.Fatalf("expected 0 unread after read, got %v", env.Data)
	}

	// outsiders get forbidden
	out := token(t, "acc-x", "rider")
	rec, _ = doJSON(t, srv, http.MethodGet, "/api/v1/conversations/conv-1/messages", out, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", rec.Code)
	}
}

func TestChatWSRejectsPlainHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	conv := &models.Conversation{
		ID: "conv-ws", RideID: "ride-1",
		DriverID: "drv-1", RiderID: "rid-1",
		CreatedAt: time.Now().Add(-time.Minute),
	}
	if err := store.CreateConversation(context.Background(), conv); err != nil {
		t.Fatal(err)
	}

	// a valid party token but no upgrade handshake headers
	req := httptest.NewRequest(http.MethodGet, "/ws/conversations/conv-ws?token="+token(t, "rid-1", "rider"), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 from the failed upgrade, got %d", rec.Code)
	}
	// the upgrader's reply is the whole response, nothing written after it
	if n := strings.Count(rec.Body.String(), "\n"); n != 1 {
		t.Fatalf("expected a single error line, got %q", rec.Body.String())
	}
}
