package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_consumed_total",
		Help: "Total lifecycle events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_invalid_total",
		Help: "Total invalid events received",
	})
	eventsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_duplicate_total",
		Help: "Total events skipped as already delivered",
	})
	emailsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_emails_sent_total",
		Help: "Total emails delivered",
	})
	emailErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_email_errors_total",
		Help: "Total email delivery failures",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, eventsDuplicate, emailsSent, emailErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{"localhost:9092"}
	if env := os.Getenv("KAFKA_BROKERS"); env != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(env, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := os.Getenv("EVENT_TOPIC")
	if topic == "" {
		topic = "lifecycle-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ride-marketplace-notifier"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr})
	var dedupe Deduper = &redisDeduper{c: rc, ttl: 24 * time.Hour}

	var sender Sender = &logSender{}
	if addr := os.Getenv("SMTP_ADDR"); addr != "" {
		sender = &smtpSender{addr: addr, from: os.Getenv("SMTP_FROM")}
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("notifier listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down notifier")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		eventsConsumed.Inc()

		var ev models.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.ID == "" {
			eventsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}

		seen, err := dedupe.Seen(ctx, ev.ID)
		if err != nil {
			log.Printf("dedupe check failed for event=%s: %v", ev.ID, err)
		}
		if seen {
			eventsDuplicate.Inc()
			continue
		}

		email := composeEmail(ev)
		if email.To == "" {
			log.Printf("event %s has no recipient, skipping", ev.ID)
			continue
		}
		if err := sendWithRetry(ctx, sender, email, 3, 200*time.Millisecond); err != nil {
			emailErrors.Inc()
			log.Printf("email delivery failed for event=%s: %v", ev.ID, err)
			continue
		}
		emailsSent.Inc()
	}
}

// Email is one outbound notification.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Sender is the small delivery surface we need for tests and production.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

type smtpSender struct {
	addr string
	from string
}

func (s *smtpSender) Send(ctx context.Context, e Email) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", s.from, e.To, e.Subject, e.Body)
	return smtp.SendMail(s.addr, nil, s.from, []string{e.To}, []byte(msg))
}

// logSender stands in when no SMTP server is configured.
type logSender struct{}

func (l *logSender) Send(ctx context.Context, e Email) error {
	log.Printf("[email] to=%s subject=%q", e.To, e.Subject)
	return nil
}

// Deduper remembers delivered event IDs.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

type redisDeduper struct {
	c   *redis.Client
	ttl time.Duration
}

// Seen marks the ID and reports whether it was already present. SETNX makes
// the check-and-mark a single round trip.
func (d *redisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.c.SetNX(ctx, "notified:"+eventID, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// composeEmail renders the notification for an event kind.
func composeEmail(ev models.Event) Email {
	e := Email{To: ev.Email}
	switch ev.Kind {
	case models.EventRideCompleted:
		e.Subject = "Your ride is complete"
		e.Body = fmt.Sprintf("Ride %s finished. Total: $%.2f.", ev.RideID, float64(ev.AmountCents)/100)
	case models.EventReceiptRequested:
		e.Subject = "Your ride receipt"
		e.Body = fmt.Sprintf("Receipt for ride %s. Total charged: $%.2f.", ev.RideID, float64(ev.AmountCents)/100)
	case models.EventMembershipExtended:
		e.Subject = "Membership updated"
		e.Body = fmt.Sprintf("Your membership was extended. Amount paid: $%.2f.", float64(ev.AmountCents)/100)
	default:
		e.Subject = "Ride marketplace notification"
		e.Body = fmt.Sprintf("Event %s occurred at %s.", ev.Kind, ev.OccurredAt.Format(time.RFC3339))
	}
	return e
}

// sendWithRetry delivers with bounded retry and doubling backoff.
func sendWithRetry(ctx context.Context, s Sender, e Email, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = s.Send(ctx, e); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
