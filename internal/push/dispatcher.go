package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result counts the outcomes of one dispatch. Pruned endpoints are counted
// separately and never as failures.
type Result struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Pruned    int `json:"pruned"`
}

// DeadLetter receives deliveries that failed transiently.
type DeadLetter interface {
	Publish(ctx context.Context, entry DeadLetterEntry) error
}

// DeadLetterEntry is one lost delivery.
type DeadLetterEntry struct {
	UserID     int64           `json:"userId"`
	Category   Category        `json:"category"`
	Endpoint   string          `json:"endpoint"`
	StatusCode int             `json:"statusCode,omitempty"`
	Reason     string          `json:"reason"`
	Payload    json.RawMessage `json:"payload"`
	FailedAt   time.Time       `json:"failedAt"`
}

// DispatcherOptions tunes a Dispatcher. Zero values take defaults.
type DispatcherOptions struct {
	// Timeout bounds each endpoint's delivery.
	Timeout time.Duration
	// Fanout is the maximum number of concurrent deliveries per dispatch.
	Fanout     int
	DeadLetter DeadLetter
	Logger     *slog.Logger
}

// Dispatcher sends one payload to every endpoint of a user.
type Dispatcher struct {
	registry   Registry
	prefs      PreferenceStore
	sender     Sender
	deadLetter DeadLetter
	timeout    time.Duration
	fanout     int
	logger     *slog.Logger
	nowF       func() time.Time
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(registry Registry, prefs PreferenceStore, sender Sender, opts DispatcherOptions) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Fanout <= 0 {
		opts.Fanout = 8
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		registry:   registry,
		prefs:      prefs,
		sender:     sender,
		deadLetter: opts.DeadLetter,
		timeout:    opts.Timeout,
		fanout:     opts.Fanout,
		logger:     opts.Logger,
		nowF:       time.Now,
	}
}

// Dispatch delivers payload to every subscription of userID if the user's
// preferences allow category. It never fails: problems are logged and show
// up only in the counts.
func (d *Dispatcher) Dispatch(ctx context.Context, userID int64, category Category, payload Payload) Result {
	log := d.logger.With(slog.Int64("user_id", userID), slog.String("category", string(category)))

	prefs, err := d.prefs.GetPreferences(ctx, userID)
	if err != nil {
		log.Error("load notification preferences", slog.Any("error", err))
		return Result{}
	}
	if !prefs.Allows(category) {
		log.Debug("notification suppressed by preferences")
		return Result{}
	}

	subs, err := d.registry.ListSubscriptions(ctx, userID)
	if err != nil {
		log.Error("list push subscriptions", slog.Any("error", err))
		return Result{}
	}
	if len(subs) == 0 {
		return Result{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("encode push payload", slog.Any("error", err))
		return Result{}
	}

	var (
		mu  sync.Mutex
		res Result
		g   errgroup.Group
	)
	g.SetLimit(d.fanout)
	for _, sub := range subs {
		g.Go(func() error {
			out := d.deliver(ctx, sub, body)
			switch out.Kind {
			case KindDelivered:
				mu.Lock()
				res.Delivered++
				mu.Unlock()
			case KindGone:
				d.prune(ctx, log, sub, out)
				mu.Lock()
				res.Pruned++
				mu.Unlock()
			case KindTransient:
				log.Warn("push delivery failed",
					slog.String("endpoint", shortEndpoint(sub.Endpoint)),
					slog.Int("status", out.StatusCode),
					slog.Any("error", out.Err))
				d.sendToDeadLetter(ctx, log, sub, category, body, out)
				mu.Lock()
				res.Failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("notification dispatched",
		slog.Int("delivered", res.Delivered),
		slog.Int("failed", res.Failed),
		slog.Int("pruned", res.Pruned))
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, body []byte) Outcome {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	out := d.sender.Send(ctx, sub, body)
	if out.Kind == KindTransient && out.Err == nil {
		out.Err = ctx.Err()
	}
	return out
}

func (d *Dispatcher) prune(ctx context.Context, log *slog.Logger, sub Subscription, out Outcome) {
	err := d.registry.DeleteSubscription(ctx, sub.UserID, sub.Endpoint)
	if err != nil && !errors.Is(err, ErrNotFound) {
		log.Error("prune push subscription",
			slog.String("endpoint", shortEndpoint(sub.Endpoint)),
			slog.Any("error", err))
		return
	}
	log.Info("pruned gone push subscription",
		slog.String("endpoint", shortEndpoint(sub.Endpoint)),
		slog.Int("status", out.StatusCode))
}

func (d *Dispatcher) sendToDeadLetter(ctx context.Context, log *slog.Logger, sub Subscription, category Category, body []byte, out Outcome) {
	if d.deadLetter == nil {
		return
	}
	entry := DeadLetterEntry{
		UserID:     sub.UserID,
		Category:   category,
		Endpoint:   sub.Endpoint,
		StatusCode: out.StatusCode,
		Payload:    body,
		FailedAt:   d.nowF().UTC(),
	}
	if out.Err != nil {
		entry.Reason = out.Err.Error()
	}
	if err := d.deadLetter.Publish(ctx, entry); err != nil {
		log.Error("publish dead letter", slog.Any("error", err))
	}
}

func shortEndpoint(endpoint string) string {
	r := []rune(endpoint)
	if len(r) <= 50 {
		return endpoint
	}
	return string(r[:50])
}
