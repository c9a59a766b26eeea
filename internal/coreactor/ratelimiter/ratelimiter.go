// Package ratelimiter implements the local, in-process rate limiter agent:
// per-key token-bucket admission control with lazy refill and expiration.
//
// Algorithm Details (grounded in the original acton-reactive agent this was
// distilled from — acton-dx/src/htmx/agents/rate_limiter.rs):
//   - Each key (consumer, IP, route) gets its own bucket
//   - Tokens refill continuously based on elapsed time, computed lazily on
//     each observation — no background task ever touches token counts
//   - Bucket expiration runs on a periodic tick; it is the only place
//     buckets are dropped
//
// This agent provides local rate limiting when the distributed, Redis-backed
// path (see internal/ratelimit) is unavailable or undesired: no cross-process
// state, no persistence, lost on restart.
package ratelimiter

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-gateway/internal/coreactor/clock"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/reqreply"
)

// Config holds configuration for the rate limiter agent.
type Config struct {
	// BucketCapacity is the default max tokens for newly-created buckets.
	BucketCapacity uint32
	// RefillRate is tokens added per second. Zero means a bucket never
	// refills: one-shot until ResetBucket.
	RefillRate float64
	// CleanupInterval is how often the periodic CleanupExpired tick runs.
	CleanupInterval time.Duration
	// BucketExpiration is how long a bucket can sit unused before the
	// cleanup tick removes it.
	BucketExpiration time.Duration
	// Enabled, when false, makes every CheckRateLimit reply allowed=true
	// with remaining=capacity — disabled-degradation, not an error.
	Enabled bool
}

// DefaultConfig returns the agent's documented defaults.
func DefaultConfig() Config {
	return Config{
		BucketCapacity:   100,
		RefillRate:       10.0,
		CleanupInterval:  60 * time.Second,
		BucketExpiration: 300 * time.Second,
		Enabled:          true,
	}
}

// bucket is admission credit for a single key.
type bucket struct {
	capacity   uint32
	refillRate float64
	tokens     float64
	lastUpdate time.Time
	lastAccess time.Time
}

func newBucket(capacity uint32, refillRate float64, now time.Time) *bucket {
	return &bucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     float64(capacity),
		lastUpdate: now,
		lastAccess: now,
	}
}

// refill advances tokens to now. Capacity/refillRate are taken from the
// bucket's own fields so an UpdateConfig between observations only affects
// refill math from that instant forward, per the core contract.
func (b *bucket) refill(now time.Time) {
	if now.Before(b.lastUpdate) {
		now = b.lastUpdate
	}
	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens = math.Min(float64(b.capacity), b.tokens+elapsed*b.refillRate)
	b.lastUpdate = now
}

// Result is the reply to a CheckRateLimit query.
type Result struct {
	Allowed   bool
	Remaining uint32
	// ResetIn is how long until enough tokens accumulate for the request
	// that was just denied. Zero when Allowed is true. When the refill rate
	// is zero the bucket never refills, and that is represented as a very
	// large duration (neverResets) rather than a literal infinity marker,
	// since time.Duration has no such value.
	ResetIn time.Duration
}

// Stats is the reply to a GetStats query.
type Stats struct {
	Requests    uint64
	Allowed     uint64
	Denied      uint64
	BucketCount int
}

// neverResets is the ResetIn sentinel used when refill_rate == 0: the
// bucket cannot refill on its own, so "reset" never happens short of an
// explicit ResetBucket.
const neverResets = 365 * 24 * time.Hour

// checkRequest is the internal mailbox message for CheckRateLimit.
type checkRequest struct {
	key    string
	tokens uint32
	reply  *reqreply.Channel[Result]
}

type resetRequest struct {
	key string
}

type statsRequest struct {
	reply *reqreply.Channel[Stats]
}

type updateConfigRequest struct {
	config Config
}

// Agent is the rate limiter actor. Its mailbox is the only way to read or
// mutate state; every exported method sends a message and, for queries,
// waits on a one-shot reply channel. The zero value is not usable;
// construct with New and call Start before sending it any messages.
type Agent struct {
	clock clock.Clock

	checkCh  chan checkRequest
	resetCh  chan resetRequest
	cleanup  chan struct{}
	statsCh  chan statsRequest
	configCh chan updateConfigRequest

	// config and buckets are owned exclusively by the run loop goroutine;
	// nothing outside it ever touches them directly.
	config  Config
	buckets map[string]*bucket

	requests uint64
	allowed  uint64
	denied   uint64
}

// mailboxCapacity bounds the command mailbox. Queries use their own smaller
// buffer sized for fail-fast backpressure (see Open Question in DESIGN.md).
const mailboxCapacity = 256
const queryMailboxCapacity = 64

// New creates a rate limiter agent with the given configuration and clock.
// Call Start to begin processing messages.
func New(cfg Config, c clock.Clock) *Agent {
	if c == nil {
		c = clock.Real{}
	}
	return &Agent{
		clock:    c,
		checkCh:  make(chan checkRequest, queryMailboxCapacity),
		resetCh:  make(chan resetRequest, mailboxCapacity),
		cleanup:  make(chan struct{}, 1),
		statsCh:  make(chan statsRequest, queryMailboxCapacity),
		configCh: make(chan updateConfigRequest, mailboxCapacity),
		config:   cfg,
		buckets:  make(map[string]*bucket),
	}
}

// Start launches the actor's single-writer run loop along with its periodic
// CleanupExpired ticker. It returns once ctx is cancelled; messages still
// queued in the mailbox at that point are not processed.
func (a *Agent) Start(ctx context.Context) {
	ticker := time.NewTicker(a.intervalOrDefault())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("component", "ratelimiter").Msg("agent stopping")
			return

		case req := <-a.checkCh:
			a.handleCheck(req)

		case req := <-a.resetCh:
			a.handleReset(req)

		case <-a.cleanup:
			a.handleCleanup()

		case req := <-a.statsCh:
			req.reply.Reply(a.snapshotStats())

		case req := <-a.configCh:
			a.config = req.config

		case <-ticker.C:
			// Ticks never steal more than one queued cleanup at a time.
			select {
			case a.cleanup <- struct{}{}:
			default:
			}
		}
	}
}

func (a *Agent) intervalOrDefault() time.Duration {
	if a.config.CleanupInterval <= 0 {
		return DefaultConfig().CleanupInterval
	}
	return a.config.CleanupInterval
}

// CheckRateLimit asks whether a request of the given token cost should be
// admitted for key. It blocks until the actor replies or ctx is done.
func (a *Agent) CheckRateLimit(ctx context.Context, key string, tokens uint32) (Result, error) {
	reply := reqreply.New[Result]()
	req := checkRequest{key: key, tokens: tokens, reply: reply}

	select {
	case a.checkCh <- req:
	default:
		return Result{}, reqreply.ErrReplyTimeout
	}

	return reply.Wait(ctx)
}

// ResetBucket clears the bucket for key, or creates a full one. Fire-and-
// forget: no reply is required. Blocks (bounded by ctx) only on mailbox
// backpressure, per the command-path policy.
func (a *Agent) ResetBucket(ctx context.Context, key string) error {
	select {
	case a.resetCh <- resetRequest{key: key}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CleanupExpired triggers an out-of-band expiration sweep in addition to
// the periodic tick. Exposed mainly for tests that want deterministic
// control over when expiration happens.
func (a *Agent) CleanupExpired(ctx context.Context) error {
	select {
	case a.cleanup <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns a snapshot of the agent's counters. Query path: fails
// fast if the mailbox is full rather than blocking the caller indefinitely.
func (a *Agent) GetStats(ctx context.Context) (Stats, error) {
	reply := reqreply.New[Stats]()
	select {
	case a.statsCh <- statsRequest{reply: reply}:
	default:
		return Stats{}, reqreply.ErrReplyTimeout
	}
	return reply.Wait(ctx)
}

// UpdateConfig replaces the agent's configuration. Existing buckets keep
// their current token count; the new capacity/refill_rate apply starting
// from the next observation.
func (a *Agent) UpdateConfig(ctx context.Context, cfg Config) error {
	select {
	case a.configCh <- updateConfigRequest{config: cfg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) handleCheck(req checkRequest) {
	a.requests++

	if !a.config.Enabled {
		a.allowed++
		req.reply.Reply(Result{Allowed: true, Remaining: a.config.BucketCapacity})
		return
	}

	now := a.clock.Now()
	b, ok := a.buckets[req.key]
	if !ok {
		b = newBucket(a.config.BucketCapacity, a.config.RefillRate, now)
		a.buckets[req.key] = b
	}
	b.refill(now)
	b.lastAccess = now

	// UpdateConfig takes effect on the bucket's next observation: the time
	// elapsed so far refilled at the bucket's old rate, the new capacity and
	// rate apply from now on.
	b.capacity = a.config.BucketCapacity
	b.refillRate = a.config.RefillRate
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}

	cost := float64(req.tokens)
	if b.tokens >= cost {
		b.tokens -= cost
		a.allowed++
		req.reply.Reply(Result{
			Allowed:   true,
			Remaining: uint32(math.Floor(b.tokens)),
			ResetIn:   0,
		})
		return
	}

	a.denied++
	resetIn := neverResets
	if b.refillRate > 0 {
		need := cost - b.tokens
		seconds := math.Ceil(need / b.refillRate)
		resetIn = time.Duration(seconds * float64(time.Second))
	}
	req.reply.Reply(Result{
		Allowed:   false,
		Remaining: uint32(math.Floor(b.tokens)),
		ResetIn:   resetIn,
	})
}

func (a *Agent) handleReset(req resetRequest) {
	delete(a.buckets, req.key)
}

func (a *Agent) handleCleanup() {
	now := a.clock.Now()
	removed := 0
	for key, b := range a.buckets {
		if now.Sub(b.lastAccess) >= a.config.BucketExpiration {
			delete(a.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().
			Str("component", "ratelimiter").
			Int("removed", removed).
			Int("remaining", len(a.buckets)).
			Msg("expired buckets cleaned up")
	}
}

func (a *Agent) snapshotStats() Stats {
	return Stats{
		Requests:    a.requests,
		Allowed:     a.allowed,
		Denied:      a.denied,
		BucketCount: len(a.buckets),
	}
}

// CalculateRefillRate converts a "limit per window" shape (as the gateway's
// rate-limit plugin config expresses it) into tokens/second, matching the
// helper of the same name in internal/ratelimit/token_bucket.go.
func CalculateRefillRate(limit int, window time.Duration) float64 {
	return float64(limit) / window.Seconds()
}
