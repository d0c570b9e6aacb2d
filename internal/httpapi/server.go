package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/chat"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/config"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/distance"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/identity"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/lifecycle"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/membership"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/payments"
)

// Server exposes every lifecycle operation as a request/response pair over
// the uniform ok-discriminant envelope.
type Server struct {
	Lifecycle *lifecycle.Service
	Gate      *membership.Gate
	Tracker   *chat.Tracker
	Registry  *chat.Registry
	Charger   payments.Charger
	Ids       *identity.Resolver
	Distance  distance.Estimator
	Cfg       config.ServerConfig

	logger *slog.Logger
	mux    *mux.Router
}

func New(cfg config.ServerConfig, svc *lifecycle.Service, gate *membership.Gate, tracker *chat.Tracker, reg *chat.Registry, charger payments.Charger, ids *identity.Resolver, dist distance.Estimator, logger *slog.Logger) *Server {
	s := &Server{
		Lifecycle: svc,
		Gate:      gate,
		Tracker:   tracker,
		Registry:  reg,
		Charger:   charger,
		Ids:       ids,
		Distance:  dist,
		Cfg:       cfg,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/rides", s.handlePostRide).Methods("POST")
	api.HandleFunc("/rides/open", s.handleListOpen).Methods("GET")
	api.HandleFunc("/rides/{id}/bookings", s.handleRequestBooking).Methods("POST")
	api.HandleFunc("/rides/{id}/accept", s.handleAcceptRide).Methods("POST")
	api.HandleFunc("/rides/{id}/start", s.handleStartTrip).Methods("POST")
	api.HandleFunc("/rides/{id}/complete", s.handleCompleteTrip).Methods("POST")
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods("POST")
	api.HandleFunc("/rides/{id}/receipt", s.handleReceipt).Methods("GET")
	api.HandleFunc("/bookings/{id}/withdraw", s.handleWithdrawBooking).Methods("POST")

	api.HandleFunc("/memberships/me", s.handleMyMembership).Methods("GET")
	api.HandleFunc("/memberships/trial", s.handleStartTrial).Methods("POST")
	api.HandleFunc("/memberships/purchase", s.handlePurchaseMembership).Methods("POST")
	api.HandleFunc("/admin/memberships/extend", s.handleAdminExtend).Methods("POST")

	api.HandleFunc("/conversations/{id}/unread", s.handleUnread).Methods("GET")
	api.HandleFunc("/conversations/{id}/read", s.handleMarkRead).Methods("POST")
	api.HandleFunc("/conversations/{id}/messages", s.handleMessages).Methods("GET")
	api.HandleFunc("/conversations/{id}/messages", s.handlePostMessage).Methods("POST")

	s.mux.HandleFunc("/ws/conversations/{id}", s.handleChatWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
