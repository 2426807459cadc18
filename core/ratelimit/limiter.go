// Package ratelimit throttles inbound requests with a sliding window of
// timestamped entries per (client, endpoint class). The prune+count+add cycle
// executes as one atomic unit against the shared store; a store outage fails
// open so availability wins over strict enforcement.
package ratelimit

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"echofm/logger"
)

// Rule throttles one endpoint class. Rules are matched in order against the
// request path; the first prefix match wins. Endpoints matching no rule are
// unthrottled.
type Rule struct {
	Prefix        string `json:"prefix"`
	Limit         int64  `json:"limit"`
	WindowSeconds int    `json:"windowSeconds"`
}

// Window returns the rule's window as a duration.
func (r Rule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Store is the shared counter store. Take must atomically drop entries older
// than now-window, count the remainder, and record now only when the count is
// below limit, reporting whether the request was admitted.
type Store interface {
	Take(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (bool, error)
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	RetryAfter int // seconds until a retry may pass; set when denied
}

// Limiter applies the rule table to incoming requests.
type Limiter struct {
	store Store
	now   func() time.Time

	mu    sync.RWMutex
	rules []Rule
}

// NewLimiter creates a limiter with the given ordered rule table.
func NewLimiter(store Store, rules []Rule) *Limiter {
	return &Limiter{store: store, rules: rules, now: time.Now}
}

// DefaultRules mirrors the endpoint classes this service throttles out of the
// box. Download intake is the expensive path and gets the tightest budget.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "/api/tracks/popular", Limit: 60, WindowSeconds: 60},
		{Prefix: "/api/tracks", Limit: 10, WindowSeconds: 60},
		{Prefix: "/api/library", Limit: 120, WindowSeconds: 60},
	}
}

// SetRules swaps the rule table atomically.
func (l *Limiter) SetRules(rules []Rule) {
	l.mu.Lock()
	l.rules = rules
	l.mu.Unlock()
}

// match returns the first rule whose prefix matches the endpoint.
func (l *Limiter) match(endpoint string) (Rule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rule := range l.rules {
		if strings.HasPrefix(endpoint, rule.Prefix) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Allow checks one request. The counter store failing is never surfaced to
// the caller: the limiter logs a degraded-mode warning and admits the request.
func (l *Limiter) Allow(ctx context.Context, clientIdentity, endpoint string) Decision {
	rule, ok := l.match(endpoint)
	if !ok {
		return Decision{Allowed: true}
	}

	key := "ratelimit:" + clientIdentity + ":" + rule.Prefix
	admitted, err := l.store.Take(ctx, key, rule.Limit, rule.Window(), l.now())
	if err != nil {
		logger.Warn("Rate limit store unreachable, failing open",
			logger.String("client", clientIdentity),
			logger.String("endpoint", endpoint),
			logger.ErrorField(err))
		return Decision{Allowed: true}
	}
	if !admitted {
		return Decision{Allowed: false, RetryAfter: rule.WindowSeconds}
	}
	return Decision{Allowed: true}
}

// LoadRulesFile reads an ordered rule table from a JSON file.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}
