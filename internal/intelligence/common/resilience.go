package common

import (
	"context"
	stdliberrors "errors"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
)

// RetryPolicy controls retries of a remote call.
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	InitialBackoff    time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `json:"max_backoff" yaml:"max_backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	// RetryableErrors restricts retries to matching errors; empty retries all.
	RetryableErrors []error `json:"-" yaml:"-"`
}

// DefaultRetryPolicy retries twice starting at 50ms.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxRetries: 2, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}
}

func shouldRetry(err error, policy *RetryPolicy) bool {
	if policy == nil || err == nil {
		return false
	}
	if stdliberrors.Is(err, context.Canceled) || stdliberrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if len(policy.RetryableErrors) == 0 {
		return true
	}
	for _, re := range policy.RetryableErrors {
		if stdliberrors.Is(err, re) {
			return true
		}
	}
	return false
}

// calculateBackoff applies exponential back-off with ±25% jitter, capped at
// MaxBackoff.
func calculateBackoff(attempt int, policy *RetryPolicy) time.Duration {
	if policy == nil || policy.InitialBackoff <= 0 {
		return 0
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	base := float64(policy.InitialBackoff) * math.Pow(multiplier, float64(attempt))
	if policy.MaxBackoff > 0 && base > float64(policy.MaxBackoff) {
		base = float64(policy.MaxBackoff)
	}
	jitter := base * 0.25 * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

const (
	cbStateClosed   int32 = 0
	cbStateOpen     int32 = 1
	cbStateHalfOpen int32 = 2
)

// circuitBreaker opens after threshold consecutive failures and lets one
// probe through after resetDuration.
type circuitBreaker struct {
	name             string
	state            atomic.Int32
	consecutiveFails atomic.Int32
	threshold        int32
	resetDuration    time.Duration
	lastOpenTime     atomic.Int64
	halfOpenPermits  atomic.Int32
	logger           logging.Logger
	metrics          IntelligenceMetrics
}

func (cb *circuitBreaker) allow() bool {
	if cb == nil || cb.threshold <= 0 {
		return true
	}
	switch cb.state.Load() {
	case cbStateClosed:
		return true
	case cbStateOpen:
		if time.Since(time.Unix(0, cb.lastOpenTime.Load())) < cb.resetDuration {
			return false
		}
		if cb.state.CompareAndSwap(cbStateOpen, cbStateHalfOpen) {
			cb.halfOpenPermits.Store(1)
			cb.logStateChange("open", "half_open")
		}
		return cb.halfOpenPermits.Add(-1) >= 0
	case cbStateHalfOpen:
		return cb.halfOpenPermits.Add(-1) >= 0
	}
	return false
}

func (cb *circuitBreaker) recordSuccess() {
	if cb == nil || cb.threshold <= 0 {
		return
	}
	cb.consecutiveFails.Store(0)
	if cb.state.CompareAndSwap(cbStateHalfOpen, cbStateClosed) {
		cb.logStateChange("half_open", "closed")
	}
}

func (cb *circuitBreaker) recordFailure() {
	if cb == nil || cb.threshold <= 0 {
		return
	}
	fails := cb.consecutiveFails.Add(1)
	switch cb.state.Load() {
	case cbStateClosed:
		if fails >= cb.threshold && cb.state.CompareAndSwap(cbStateClosed, cbStateOpen) {
			cb.lastOpenTime.Store(time.Now().UnixNano())
			cb.logStateChange("closed", "open")
		}
	case cbStateHalfOpen:
		if cb.state.CompareAndSwap(cbStateHalfOpen, cbStateOpen) {
			cb.lastOpenTime.Store(time.Now().UnixNano())
			cb.logStateChange("half_open", "open")
		}
	}
}

func (cb *circuitBreaker) logStateChange(from, to string) {
	cb.logger.Warn("circuit breaker state change",
		logging.String("backend", cb.name), logging.String("from", from), logging.String("to", to))
	cb.metrics.RecordCircuitBreakerStateChange(context.Background(), cb.name, from, to)
}

// Resilience wraps remote calls with retries and a circuit breaker.
type Resilience struct {
	policy  *RetryPolicy
	breaker *circuitBreaker
}

// NewResilience builds a Resilience.  A threshold <= 0 disables the breaker;
// a nil policy disables retries.
func NewResilience(name string, policy *RetryPolicy, threshold int, reset time.Duration,
	logger logging.Logger, metrics IntelligenceMetrics) *Resilience {
	if metrics == nil {
		metrics = NewNoopIntelligenceMetrics()
	}
	return &Resilience{
		policy: policy,
		breaker: &circuitBreaker{
			name:          name,
			threshold:     int32(threshold),
			resetDuration: reset,
			logger:        logging.OrNop(logger),
			metrics:       metrics,
		},
	}
}

// Do runs fn until it succeeds, the policy gives up or ctx is done.
func (r *Resilience) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := 1
	if r.policy != nil {
		attempts += r.policy.MaxRetries
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if !r.breaker.allow() {
			return ErrCircuitOpen
		}
		if err = fn(ctx); err == nil {
			r.breaker.recordSuccess()
			return nil
		}
		r.breaker.recordFailure()
		if !shouldRetry(err, r.policy) || attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(calculateBackoff(attempt, r.policy)):
		}
	}
	return err
}
