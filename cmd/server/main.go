package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/chat"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/config"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/distance"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/events"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/fare"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/httpapi"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/identity"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/lifecycle"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/logging"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/membership"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/payments"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/storage"
)

// marketStore is everything the services need from one backing store.
type marketStore interface {
	lifecycle.Store
	membership.Store
	chat.Store
}

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store marketStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var publisher lifecycle.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.EventTopic)
		defer kp.Close()
		publisher = kp
	}

	gate := membership.NewGate(store, cfg.TrialDays)
	pricing := fare.Pricing{BookingFeeCents: cfg.BookingFeeCents, PricePerMileCents: cfg.PricePerMileCents}
	svc := lifecycle.NewService(store, gate, pricing, publisher, logging.For(logger, "lifecycle"))

	registry := chat.NewRegistry()
	tracker := chat.NewTracker(store, registry)

	var charger payments.Charger = payments.NopCharger{}
	if cfg.StripeEnabled {
		charger = payments.NewStripeCharger()
	}

	var dist distance.Estimator = distance.HaversineEstimator{}
	if cfg.DistanceEndpoint != "" {
		dist = distance.NewRouteClient(cfg.DistanceEndpoint)
	}
	if cfg.RedisAddr != "" {
		dist = distance.NewCachedEstimator(dist, cfg.RedisAddr, cfg.RedisPassword, cfg.DistanceCacheTTL)
	}

	ids := identity.NewResolver(cfg.JWTSecret)
	srv := httpapi.New(cfg, svc, gate, tracker, registry, charger, ids, dist, logging.For(logger, "http"))

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-marketplace listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

// runMigrations applies the schema file directly, the same optional boot-time
// mechanism the ops tooling expects.
func runMigrations(dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("migration db open error: %v", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_marketplace.sql"))
	if err != nil {
		log.Printf("migration read error: %v", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Printf("migration exec error: %v", err)
		return
	}
	log.Printf("migration applied: 001_create_marketplace.sql")
}
