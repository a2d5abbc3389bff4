// Package ratelimit spaces out calls to remote methods on a per-method basis.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

// Method names understood by the Tebra proxy.
const (
	MethodGetPatient        = "getPatient"
	MethodSearchPatients    = "searchPatients"
	MethodGetPatients       = "getPatients"
	MethodGetAppointments   = "getAppointments"
	MethodGetProviders      = "getProviders"
	MethodCreateAppointment = "createAppointment"
	MethodUpdateAppointment = "updateAppointment"
)

// DefaultBudgets returns the minimum spacing between calls for each proxy method.
func DefaultBudgets() map[string]time.Duration {
	return map[string]time.Duration{
		MethodGetPatient:        250 * time.Millisecond,
		MethodSearchPatients:    250 * time.Millisecond,
		MethodGetPatients:       5 * time.Second,
		MethodGetAppointments:   time.Second,
		MethodGetProviders:      500 * time.Millisecond,
		MethodCreateAppointment: time.Second,
		MethodUpdateAppointment: 500 * time.Millisecond,
	}
}

// Observer is notified after every Wait on a known method.
type Observer func(method string, waited time.Duration)

// Limiter tracks the last call per method and blocks callers until the
// method's minimum interval has elapsed. It is owned by a single client
// instance; sharing one across callers throttles them together.
type Limiter struct {
	budgets  map[string]time.Duration
	limiters map[string]*rate.Limiter
	logger   *logging.Logger
	observe  Observer
	now      func() time.Time

	mu       sync.Mutex
	lastCall map[string]time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithObserver registers a callback for wait durations.
func WithObserver(o Observer) Option {
	return func(l *Limiter) {
		l.observe = o
	}
}

// New builds a limiter for the given budgets. A nil map uses DefaultBudgets.
func New(budgets map[string]time.Duration, logger *logging.Logger, opts ...Option) *Limiter {
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	if logger == nil {
		logger = logging.Default()
	}
	l := &Limiter{
		budgets:  make(map[string]time.Duration, len(budgets)),
		limiters: make(map[string]*rate.Limiter, len(budgets)),
		logger:   logger,
		now:      time.Now,
		lastCall: make(map[string]time.Time),
	}
	for method, interval := range budgets {
		l.budgets[method] = interval
		l.limiters[method] = rate.NewLimiter(rate.Every(interval), 1)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait suspends until it is safe to call method. Unknown methods are not
// rate limited: a warning is logged and Wait returns immediately.
func (l *Limiter) Wait(ctx context.Context, method string) error {
	if l == nil {
		return nil
	}
	limiter, ok := l.limiters[method]
	if !ok {
		l.logger.Warn("rate limit not configured for method", "method", method)
		return nil
	}

	start := l.now()
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	end := l.now()

	l.mu.Lock()
	l.lastCall[method] = end
	l.mu.Unlock()

	waited := end.Sub(start)
	if waited > time.Millisecond {
		l.logger.Debug("rate limit wait", "method", method, "waited_ms", waited.Milliseconds())
	}
	if l.observe != nil {
		l.observe(method, waited)
	}
	return nil
}

// LastCall returns the time of the last permitted call to method.
func (l *Limiter) LastCall(method string) (time.Time, bool) {
	if l == nil {
		return time.Time{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ts, ok := l.lastCall[method]
	return ts, ok
}

// Budget returns the configured minimum interval for method.
func (l *Limiter) Budget(method string) (time.Duration, bool) {
	if l == nil {
		return 0, false
	}
	d, ok := l.budgets[method]
	return d, ok
}
