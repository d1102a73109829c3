package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/auth"
	"github.com/roastedbeans/certification-authority/internal/client"
	"github.com/roastedbeans/certification-authority/internal/detection"
	"github.com/roastedbeans/certification-authority/internal/response"
	"github.com/roastedbeans/certification-authority/internal/telemetry"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
)

// AnomalySink receives closed rate limiter windows.
type AnomalySink interface {
	RecordRateLimit(r detection.RateLimitRecord) error
}

type LimiterConfig struct {
	RPS              float64
	Burst            int
	Window           time.Duration
	AnomalyThreshold int

	// Routes resolves the route pattern of a request before the router
	// runs. Requests it cannot match share one window.
	Routes chi.Routes

	// Redis mode (optional)
	Redis     *client.RedisClient
	KeyPrefix string
	BucketTTL time.Duration
}

// RateLimiter applies a token bucket per client and counts requests per
// client and endpoint in fixed windows. A window whose count exceeds
// AnomalyThreshold rejects the rest of its requests and is logged as an
// anomaly when it closes.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     LimiterConfig
	buckets map[string]*tokenBucket
	windows map[string]*window
	sink    AnomalySink
	shipper telemetry.Publisher
	keyFunc func(*http.Request) string
	now     func() time.Time
}

type window struct {
	clientID string
	endpoint string
	start    time.Time
	count    int
}

func NewRateLimiter(cfg LimiterConfig, keyFunc func(*http.Request) string, sink AnomalySink, shipper telemetry.Publisher) *RateLimiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ca:rl:"
	}
	if cfg.BucketTTL <= 0 {
		cfg.BucketTTL = time.Hour
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RPS)
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if keyFunc == nil {
		keyFunc = RemoteIP
	}
	if shipper == nil {
		shipper = telemetry.Nop{}
	}
	return &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*tokenBucket),
		windows: make(map[string]*window),
		sink:    sink,
		shipper: shipper,
		keyFunc: keyFunc,
		now:     time.Now,
	}
}

// RemoteIP keys requests by peer address.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientKey keys requests by the client_id of a verifiable bearer token and
// falls back to the peer address. Revocation is not checked here.
func ClientKey(tokens auth.TokenParser) func(*http.Request) string {
	return func(r *http.Request) string {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			if c, err := tokens.Parse(strings.TrimSpace(h[len("Bearer "):])); err == nil && c.ClientID != "" {
				return c.ClientID
			}
		}
		return "ip:" + RemoteIP(r)
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.keyFunc(r)
		endpoint := rl.routePattern(r)

		if rl.countWindow(key, endpoint) {
			rl.reject(w, r, "anomalous request volume")
			return
		}

		if rl.cfg.Redis != nil {
			ok, err := redisAllow(r.Context(), rl.cfg.Redis, rl.cfg.KeyPrefix+key,
				rl.cfg.RPS, rl.cfg.Burst, 1, rl.cfg.BucketTTL, rl.now())
			if err != nil {
				logger.Warnw("rate limiter degraded", "error", err)
				w.Header().Set("X-RateLimit-Degraded", "true")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				rl.reject(w, r, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !rl.bucket(key).allow(1, rl.now()) {
			rl.reject(w, r, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("Retry-After", strconv.Itoa(int(rl.cfg.Window.Seconds())))
	response.Error(w, r, apperr.Protocol(apperr.Throttled, "", "%s", msg))
}

// UnmatchedRoute is the window endpoint of requests no route matches.
const UnmatchedRoute = "unmatched"

// routePattern names the route a request will hit so path parameters and
// unknown paths do not fan out into separate windows. The limiter runs
// before routing, so the pattern comes from cfg.Routes when it is set, or
// from an already matched route when the limiter is mounted with With.
func (rl *RateLimiter) routePattern(r *http.Request) string {
	if rl.cfg.Routes != nil {
		rctx := chi.NewRouteContext()
		if !rl.cfg.Routes.Match(rctx, r.Method, r.URL.Path) {
			return UnmatchedRoute
		}
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
		return r.URL.Path
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// countWindow adds the request to its window, closing the previous one when
// it expired, and reports whether the window is over the anomaly threshold.
func (rl *RateLimiter) countWindow(clientID, endpoint string) bool {
	now := rl.now()
	k := clientID + "|" + endpoint

	rl.mu.Lock()
	win, ok := rl.windows[k]
	var closed *window
	if ok && now.Sub(win.start) >= rl.cfg.Window {
		closed = win
		ok = false
	}
	if !ok {
		win = &window{clientID: clientID, endpoint: endpoint, start: now}
		rl.windows[k] = win
	}
	win.count++
	over := rl.cfg.AnomalyThreshold > 0 && win.count > rl.cfg.AnomalyThreshold
	rl.mu.Unlock()

	if closed != nil {
		rl.record(closed)
	}
	return over
}

// Flush closes every window that has expired by now, or all windows when
// all is set. Buckets idle long enough to have refilled are dropped too; a
// new bucket starts full, so dropping them loses nothing.
func (rl *RateLimiter) Flush(all bool) {
	now := rl.now()
	rl.mu.Lock()
	var closed []*window
	for k, win := range rl.windows {
		if all || now.Sub(win.start) >= rl.cfg.Window {
			closed = append(closed, win)
			delete(rl.windows, k)
		}
	}
	for k, b := range rl.buckets {
		if b.full(now) {
			delete(rl.buckets, k)
		}
	}
	rl.mu.Unlock()
	for _, win := range closed {
		rl.record(win)
	}
}

// Run flushes expired windows every interval until ctx ends.
func (rl *RateLimiter) Run(ctx context.Context) {
	t := time.NewTicker(rl.cfg.Window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			rl.Flush(true)
			return
		case <-t.C:
			rl.Flush(false)
		}
	}
}

func (rl *RateLimiter) record(win *window) {
	anomaly := rl.cfg.AnomalyThreshold > 0 && win.count > rl.cfg.AnomalyThreshold
	rec := detection.RateLimitRecord{
		StartTime:    win.start.UTC().Format(time.RFC3339),
		EndTime:      win.start.Add(rl.cfg.Window).UTC().Format(time.RFC3339),
		IsAnomaly:    strconv.FormatBool(anomaly),
		RequestCount: strconv.Itoa(win.count),
		ClientID:     win.clientID,
		Endpoint:     win.endpoint,
	}
	if anomaly {
		rec.Reason = fmt.Sprintf("%d requests exceed threshold %d", win.count, rl.cfg.AnomalyThreshold)
		logger.Warnw("rate limit anomaly", "client_id", win.clientID, "endpoint", win.endpoint, "count", win.count)
		rl.shipper.Publish(telemetry.RateLimitEvent{
			Timestamp:    win.start.UTC(),
			ClientID:     win.clientID,
			Endpoint:     win.endpoint,
			RequestCount: win.count,
			Reason:       rec.Reason,
		})
	}
	if rl.sink == nil {
		return
	}
	if err := rl.sink.RecordRateLimit(rec); err != nil {
		logger.Warnw("write rate limit log", "error", err)
	}
}

type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(rps float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(burst),
		tokens:     float64(burst),
		refillRate: rps,
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(cost int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		return true
	}
	return false
}

// full reports whether the bucket has refilled to capacity by now.
func (b *tokenBucket) full(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens+now.Sub(b.lastRefill).Seconds()*b.refillRate >= b.capacity
}

func (rl *RateLimiter) bucket(key string) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = newBucket(rl.cfg.RPS, rl.cfg.Burst, rl.now())
		rl.buckets[key] = b
	}
	return b
}

var bucketScript = redis.NewScript(`
-- KEYS = bucket key
-- ARGV = now_ms, rate_per_sec, capacity, cost, ttl_sec
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if not tokens or not ts then
  tokens = cap
  ts = now
else
  local elapsed = (now - ts) / 1000
  tokens = math.min(cap, tokens + (elapsed * rate))
  ts = now
end

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "ts", ts)
redis.call("EXPIRE", key, ttl)

return allowed
`)

func redisAllow(ctx context.Context, rdb *client.RedisClient, key string, rps float64, burst, cost int, ttl time.Duration, now time.Time) (bool, error) {
	res, err := bucketScript.Run(ctx, rdb.Client, []string{key},
		now.UnixMilli(), rps, burst, cost, int(ttl.Seconds()),
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
