package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Policy is a quota: at most MaxRequests per fixed Window.
type Policy struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

var (
	PolicyAuth    = Policy{Name: "auth", MaxRequests: 5, Window: 15 * time.Minute}
	PolicyAPI     = Policy{Name: "api", MaxRequests: 200, Window: time.Minute}
	PolicyUpload  = Policy{Name: "upload", MaxRequests: 10, Window: 10 * time.Minute}
	PolicyDefault = Policy{Name: "default", MaxRequests: 100, Window: time.Minute}
)

var policies = map[string]Policy{
	PolicyAuth.Name:    PolicyAuth,
	PolicyAPI.Name:     PolicyAPI,
	PolicyUpload.Name:  PolicyUpload,
	PolicyDefault.Name: PolicyDefault,
}

// PolicyFor returns the named policy, or PolicyDefault for unknown names.
func PolicyFor(name string) Policy {
	if p, ok := policies[name]; ok {
		return p
	}
	return PolicyDefault
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed      bool
	Limit        int
	Remaining    int
	ResetSeconds int
}

// Limiter applies policies against a Store.
type Limiter struct {
	store  Store
	logger *slog.Logger
	nowF   func() time.Time
}

// NewLimiter returns a Limiter backed by store.
func NewLimiter(store Store, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, logger: logger, nowF: time.Now}
}

// Key builds the composite store key for a caller on a route.
func Key(caller, route string) string {
	return caller + ":" + route
}

// Check counts one request from caller on route against p. It never fails:
// when the store is unavailable the request is let through and the error logged.
// Requests past the limit are still counted.
func (l *Limiter) Check(ctx context.Context, caller, route string, p Policy) Decision {
	rec, err := l.store.Increment(ctx, Key(caller, route), p.Window)
	if err != nil {
		l.logger.Warn("rate limit store unavailable; admitting request",
			slog.String("policy", p.Name),
			slog.String("route", route),
			slog.Any("error", err))
		return Decision{
			Allowed:      true,
			Limit:        p.MaxRequests,
			Remaining:    p.MaxRequests,
			ResetSeconds: ceilSeconds(p.Window),
		}
	}

	remaining := p.MaxRequests - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	reset := ceilSeconds(rec.ResetAt.Sub(l.nowF()))
	if reset < 0 {
		reset = 0
	}
	return Decision{
		Allowed:      rec.Count <= p.MaxRequests,
		Limit:        p.MaxRequests,
		Remaining:    remaining,
		ResetSeconds: reset,
	}
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
