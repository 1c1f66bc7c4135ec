package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"carehq/internal/subscriptions"
)

// ErrNoSubscription is returned by a targeted send when the user has no
// subscription on file.
var ErrNoSubscription = errors.New("no subscription for user")

// Message is the payload rendered by the service worker as a
// notification. Missing fields get defaults on the receiving side.
type Message struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// DailyMessage is the fixed reminder used by the scheduled broadcast.
func DailyMessage(now time.Time) Message {
	return Message{
		Title: "Care HQ — Daily Check",
		Body:  "Quick scan: any appointments or bills coming up?",
		Data:  map[string]any{"t": now.UnixMilli()},
	}
}

// DeliveryError is a push-service rejection with its HTTP status.
type DeliveryError struct {
	StatusCode int
	Endpoint   string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("push service rejected delivery: status %d", e.StatusCode)
}

// Gone reports whether the subscription is permanently dead and should
// be pruned from the registry.
func (e *DeliveryError) Gone() bool {
	return e.StatusCode == 404 || e.StatusCode == 410
}

// Sender delivers an encrypted payload to a single subscription.
type Sender interface {
	Send(ctx context.Context, rec subscriptions.Record, payload []byte) error
}

// SubscriptionStore is the registry surface the dispatcher needs.
type SubscriptionStore interface {
	Get(ctx context.Context, userID string) (*subscriptions.Record, error)
	List(ctx context.Context) ([]subscriptions.Record, error)
	Delete(ctx context.Context, userID string) error
}

// DeliveryResult is the per-subscription outcome of a broadcast.
// Collected for debuggability; the external contract reports only the
// aggregate.
type DeliveryResult struct {
	UserID string
	Err    error
}

// BroadcastResult summarizes a broadcast. Attempted counts every
// enumerated subscription, failures included.
type BroadcastResult struct {
	Attempted int
	Results   []DeliveryResult
}

// Failed returns the number of deliveries that errored.
func (r BroadcastResult) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Config holds dispatcher settings.
type Config struct {
	// RatePerSecond limits push-service sends. Default: 20.
	RatePerSecond float64
	// Burst is the token bucket size. Default: 30.
	Burst int
	// PruneGone removes subscriptions the push service reports
	// permanently gone (404/410). Default: true.
	PruneGone bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RatePerSecond: 20,
		Burst:         30,
		PruneGone:     true,
	}
}

// Dispatcher sends push messages to stored subscriptions.
type Dispatcher struct {
	subs    SubscriptionStore
	sender  Sender
	limiter *rate.Limiter
	config  Config
	metrics *Metrics
	logger  *zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given registry and sender.
func NewDispatcher(subs SubscriptionStore, sender Sender, config Config, metrics *Metrics, logger *zerolog.Logger) *Dispatcher {
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 20
	}
	if config.Burst <= 0 {
		config.Burst = 30
	}
	return &Dispatcher{
		subs:    subs,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// SendToUser delivers a message to one user's stored subscription.
// Returns ErrNoSubscription if none is on file.
func (d *Dispatcher) SendToUser(ctx context.Context, userID string, msg Message) error {
	rec, err := d.subs.Get(ctx, userID)
	if errors.Is(err, subscriptions.ErrNotFound) {
		return ErrNoSubscription
	}
	if err != nil {
		return fmt.Errorf("lookup subscription: %w", err)
	}

	if err := d.deliver(ctx, *rec, msg); err != nil {
		d.observe("error")
		return err
	}
	d.observe("ok")
	return nil
}

// Broadcast delivers the message to every stored subscription,
// concurrently and independently. Individual failures are recorded in
// the result but never abort the others or fail the call; the only
// error path is failing to enumerate the registry.
func (d *Dispatcher) Broadcast(ctx context.Context, msg Message) (BroadcastResult, error) {
	records, err := d.subs.List(ctx)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("list subscriptions: %w", err)
	}

	result := BroadcastResult{
		Attempted: len(records),
		Results:   make([]DeliveryResult, len(records)),
	}

	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec subscriptions.Record) {
			defer wg.Done()
			err := d.deliver(ctx, rec, msg)
			result.Results[i] = DeliveryResult{UserID: rec.UserID, Err: err}
			if err != nil {
				d.observe("error")
				d.logger.Debug().Str("user_id", rec.UserID).Err(err).Msg("broadcast delivery failed")
			} else {
				d.observe("ok")
			}
		}(i, rec)
	}
	wg.Wait()

	d.logger.Info().
		Int("attempted", result.Attempted).
		Int("failed", result.Failed()).
		Msg("broadcast settled")
	return result, nil
}

// deliver encrypts and sends one message, pruning the subscription if
// the push service reports it permanently gone.
func (d *Dispatcher) deliver(ctx context.Context, rec subscriptions.Record, msg Message) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = d.sender.Send(ctx, rec, payload)
	if err == nil {
		return nil
	}

	var derr *DeliveryError
	if d.config.PruneGone && errors.As(err, &derr) && derr.Gone() {
		if delErr := d.subs.Delete(ctx, rec.UserID); delErr != nil {
			d.logger.Error().Str("user_id", rec.UserID).Err(delErr).Msg("failed to prune gone subscription")
		} else {
			d.logger.Info().Str("user_id", rec.UserID).Int("status", derr.StatusCode).Msg("pruned gone subscription")
			if d.metrics != nil {
				d.metrics.IncPruned()
			}
		}
	}
	return err
}

func (d *Dispatcher) observe(outcome string) {
	if d.metrics != nil {
		d.metrics.IncSent(outcome)
	}
}
