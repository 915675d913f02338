// Package ratelimit is a fixed-window counter per (subject, action).
//
// State lives in process memory. Several API replicas each keep their own
// counters, so the effective limit scales with the replica count; anything
// that needs a global limit has to move these counters to a shared store.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type Action string

const (
	ActionDefault  Action = "default"
	ActionRegister Action = "register"
	ActionClaim    Action = "claim"
	ActionPurchase Action = "purchase"
	ActionDownload Action = "download"
	ActionBrowse   Action = "browse"
)

type Rule struct {
	Window time.Duration
	Max    int
}

// DefaultRules is the production budget table.
var DefaultRules = map[Action]Rule{
	ActionDefault:  {Window: time.Minute, Max: 100},
	ActionRegister: {Window: 72 * time.Hour, Max: 3},
	ActionClaim:    {Window: time.Hour, Max: 10},
	ActionPurchase: {Window: time.Hour, Max: 30},
	ActionDownload: {Window: time.Minute, Max: 60},
	ActionBrowse:   {Window: time.Minute, Max: 300},
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type record struct {
	count   int
	resetAt time.Time
}

type Limiter struct {
	mu      sync.Mutex
	rules   map[Action]Rule
	records map[string]*record
	now     func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter copies rules. A nil table means DefaultRules; a table without
// ActionDefault inherits the default entry.
func NewLimiter(rules map[Action]Rule, opts ...Option) *Limiter {
	if rules == nil {
		rules = DefaultRules
	}
	l := &Limiter{
		rules:   make(map[Action]Rule, len(rules)+1),
		records: make(map[string]*record),
		now:     time.Now,
	}
	for a, r := range rules {
		l.rules[a] = r
	}
	if _, ok := l.rules[ActionDefault]; !ok {
		l.rules[ActionDefault] = DefaultRules[ActionDefault]
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) rule(action Action) Rule {
	if r, ok := l.rules[action]; ok {
		return r
	}
	return l.rules[ActionDefault]
}

func key(subject string, action Action) string {
	return string(action) + ":" + subject
}

// Consume counts one request. The window starts at the first request and is
// replaced, not extended, once it has elapsed.
func (l *Limiter) Consume(subject string, action Action) Result {
	rule := l.rule(action)
	now := l.now()
	k := key(subject, action)

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[k]
	if !ok || !now.Before(rec.resetAt) {
		rec = &record{count: 1, resetAt: now.Add(rule.Window)}
		l.records[k] = rec
		return Result{Allowed: true, Limit: rule.Max, Remaining: rule.Max - 1, ResetAt: rec.resetAt}
	}

	if rec.count >= rule.Max {
		return Result{Allowed: false, Limit: rule.Max, Remaining: 0, ResetAt: rec.resetAt}
	}

	rec.count++
	return Result{Allowed: true, Limit: rule.Max, Remaining: rule.Max - rec.count, ResetAt: rec.resetAt}
}

// Check reports what the next Consume would return without counting.
func (l *Limiter) Check(subject string, action Action) Result {
	rule := l.rule(action)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key(subject, action)]
	if !ok || !now.Before(rec.resetAt) {
		return Result{Allowed: true, Limit: rule.Max, Remaining: rule.Max - 1, ResetAt: now.Add(rule.Window)}
	}
	if rec.count >= rule.Max {
		return Result{Allowed: false, Limit: rule.Max, Remaining: 0, ResetAt: rec.resetAt}
	}
	return Result{Allowed: true, Limit: rule.Max, Remaining: rule.Max - rec.count - 1, ResetAt: rec.resetAt}
}

// Sweep drops records whose window has elapsed and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, rec := range l.records {
		if !now.Before(rec.resetAt) {
			delete(l.records, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Now is the limiter's clock.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Len is the number of live records.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Headers renders a result as response headers.
func Headers(res Result, now time.Time) map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(res.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(res.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(res.ResetAt.Unix(), 10),
	}
	if !res.Allowed {
		h["Retry-After"] = strconv.Itoa(RetryAfterSeconds(res, now))
	}
	return h
}

func RetryAfterSeconds(res Result, now time.Time) int {
	secs := int(res.ResetAt.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		secs = 1
	}
	return secs
}
