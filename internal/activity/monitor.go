// Package activity is the client half of the session lifecycle: it watches
// local user activity, counts down to server-side expiry, warns before the
// session lapses and lets the user extend or end it.
package activity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/campusgate/internal/session"
)

// Phase is the monitor's position in its state machine.
type Phase int

const (
	PhaseActive Phase = iota
	PhaseWarning
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseWarning:
		return "warning"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TerminateReason says why the monitor ended the session.
type TerminateReason string

const (
	ReasonExpired TerminateReason = "expired"
	ReasonEnded   TerminateReason = "ended"
)

// ErrTerminated is returned by Extend once the monitor has terminated.
var ErrTerminated = errors.New("activity: session terminated")

// State is a snapshot of the monitor.
type State struct {
	Phase        Phase
	LastActivity time.Time
	Remaining    time.Duration
}

// WarningVisible reports whether the expiry warning should be on screen.
func (s State) WarningVisible() bool { return s.Phase == PhaseWarning }

// SecondsRemaining is Remaining rounded up to whole seconds.
func (s State) SecondsRemaining() int {
	if s.Remaining <= 0 {
		return 0
	}
	return int((s.Remaining + time.Second - 1) / time.Second)
}

// Refresher advances the server-side activity timestamp.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Options configures a Monitor. Zero values take the session defaults.
type Options struct {
	Timeout       time.Duration
	WarningWindow time.Duration
	PollInterval  time.Duration
	// TouchInterval is the minimum gap between activity-driven refreshes.
	// Negative disables them.
	TouchInterval time.Duration
	TouchTimeout  time.Duration

	OnChange    func(State)
	OnTerminate func(TerminateReason)
	Logger      *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = session.Timeout
	}
	if o.WarningWindow <= 0 {
		o.WarningWindow = session.WarningWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.TouchInterval == 0 {
		o.TouchInterval = time.Minute
	}
	if o.TouchTimeout <= 0 {
		o.TouchTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Monitor tracks one client session.
type Monitor struct {
	mu        sync.Mutex
	opts      Options
	refresher Refresher
	touch     *rate.Limiter
	state     State
	nowF      func() time.Time
	// pending is set when activity was throttled and not yet sent to the server.
	pending bool

	touches sync.WaitGroup
}

// NewMonitor starts tracking with the current time as the last activity.
func NewMonitor(refresher Refresher, opts Options) *Monitor {
	opts.setDefaults()
	m := &Monitor{
		opts:      opts,
		refresher: refresher,
		nowF:      time.Now,
	}
	if opts.TouchInterval > 0 {
		m.touch = rate.NewLimiter(rate.Every(opts.TouchInterval), 1)
	}
	now := m.nowF()
	m.state = State{Phase: PhaseActive, LastActivity: now, Remaining: opts.Timeout}
	return m
}

// State returns the current snapshot without recomputing it.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) touching() bool {
	return m.touch != nil && m.refresher != nil
}

// RecordActivity stamps a user input event. Activity is ignored while the
// warning is showing: only Extend or End leave that phase.
//
// With touches enabled the countdown follows the server: the marker only
// moves when a touch succeeds, stamped with the time the touch was sent.
// Activity the limiter drops is held and flushed by a later Tick.
func (m *Monitor) RecordActivity() {
	m.mu.Lock()
	if m.state.Phase != PhaseActive {
		m.mu.Unlock()
		return
	}
	now := m.nowF()
	if !m.touching() {
		m.state.LastActivity = now
		m.state.Remaining = m.opts.Timeout
		m.mu.Unlock()
		return
	}
	m.pending = true
	send := m.takeTouchLocked(now)
	m.mu.Unlock()

	if send {
		m.startTouch(now)
	}
}

// takeTouchLocked reports whether held activity may be sent now.
func (m *Monitor) takeTouchLocked(now time.Time) bool {
	if !m.pending || !m.touch.AllowN(now, 1) {
		return false
	}
	m.pending = false
	return true
}

func (m *Monitor) startTouch(sentAt time.Time) {
	m.touches.Add(1)
	go m.backgroundTouch(sentAt)
}

func (m *Monitor) backgroundTouch(sentAt time.Time) {
	defer m.touches.Done()
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.TouchTimeout)
	defer cancel()
	if err := m.refresher.Refresh(ctx); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			m.terminate(ReasonExpired)
			return
		}
		m.opts.Logger.Warn("session touch failed", slog.Any("error", err))
		m.mu.Lock()
		m.pending = true
		m.mu.Unlock()
		return
	}
	m.mu.Lock()
	if m.state.Phase == PhaseActive && sentAt.After(m.state.LastActivity) {
		m.state.LastActivity = sentAt
		m.state.Remaining = m.opts.Timeout - m.nowF().Sub(sentAt)
	}
	m.mu.Unlock()
}

// Tick recomputes the remaining time, moves between phases and flushes
// throttled activity once the limiter allows another touch.
func (m *Monitor) Tick() State {
	m.mu.Lock()
	if m.state.Phase == PhaseTerminated {
		s := m.state
		m.mu.Unlock()
		return s
	}
	prev := m.state.Phase
	now := m.nowF()
	remaining := m.opts.Timeout - now.Sub(m.state.LastActivity)
	if remaining <= 0 {
		m.mu.Unlock()
		m.terminate(ReasonExpired)
		return m.State()
	}
	m.state.Remaining = remaining
	if remaining <= m.opts.WarningWindow {
		m.state.Phase = PhaseWarning
		m.pending = false
	}
	flush := m.state.Phase == PhaseActive && m.touching() && m.takeTouchLocked(now)
	s := m.state
	m.mu.Unlock()

	if flush {
		m.startTouch(now)
	}
	if s.Phase != prev {
		m.notify(s)
	}
	return s
}

// Extend refreshes the server-side session and, only if that succeeds,
// resets the local countdown. A transport failure leaves the monitor where
// it was; a server that no longer knows the session terminates it.
func (m *Monitor) Extend(ctx context.Context) error {
	if m.State().Phase == PhaseTerminated {
		return ErrTerminated
	}
	sentAt := m.nowF()
	if m.refresher != nil {
		if err := m.refresher.Refresh(ctx); err != nil {
			if errors.Is(err, ErrSessionExpired) {
				m.terminate(ReasonExpired)
			}
			return err
		}
	}

	m.mu.Lock()
	if m.state.Phase == PhaseTerminated {
		m.mu.Unlock()
		return ErrTerminated
	}
	prev := m.state.Phase
	m.state = State{Phase: PhaseActive, LastActivity: sentAt, Remaining: m.opts.Timeout - m.nowF().Sub(sentAt)}
	m.pending = false
	s := m.state
	m.mu.Unlock()

	if prev != PhaseActive {
		m.notify(s)
	}
	return nil
}

// End terminates the session at the user's request.
func (m *Monitor) End() {
	m.terminate(ReasonEnded)
}

// Run ticks every PollInterval until ctx is done or the session terminates.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Tick().Phase == PhaseTerminated {
				return
			}
		}
	}
}

// Wait blocks until in-flight activity touches finish.
func (m *Monitor) Wait() {
	m.touches.Wait()
}

func (m *Monitor) terminate(reason TerminateReason) {
	m.mu.Lock()
	if m.state.Phase == PhaseTerminated {
		m.mu.Unlock()
		return
	}
	m.state = State{Phase: PhaseTerminated}
	s := m.state
	m.mu.Unlock()

	m.notify(s)
	if m.opts.OnTerminate != nil {
		m.opts.OnTerminate(reason)
	}
}

func (m *Monitor) notify(s State) {
	if m.opts.OnChange != nil {
		m.opts.OnChange(s)
	}
}
