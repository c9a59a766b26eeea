// Package servicecoord implements the Service Coordinator agent: per-service
// health state, a circuit breaker per service, and broadcast fan-out of
// coarse state-transition events.
//
// Grounded in the original acton-reactive agent this was distilled from —
// acton-dx/src/htmx/agents/service_coordinator.rs — for the circuit breaker
// state machine and coarse-state derivation rules.
package servicecoord

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-gateway/internal/coreactor/broadcast"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/clock"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/reqreply"
)

// ServiceID is a closed enum of the six backend microservices the gateway
// coordinates health for. Adding a member is a breaking change: every
// All() enumeration and default-initialization path must be updated.
type ServiceID int

const (
	Auth ServiceID = iota
	Data
	Cedar
	Cache
	Email
	File
)

// All returns every ServiceID, in stable order.
func All() []ServiceID {
	return []ServiceID{Auth, Data, Cedar, Cache, Email, File}
}

// String returns the service's stable display name.
func (s ServiceID) String() string {
	switch s {
	case Auth:
		return "auth"
	case Data:
		return "data"
	case Cedar:
		return "cedar"
	case Cache:
		return "cache"
	case Email:
		return "email"
	case File:
		return "file"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// DefaultPort returns the service's default gRPC port.
func (s ServiceID) DefaultPort() int {
	switch s {
	case Auth:
		return 50051
	case Data:
		return 50052
	case Cedar:
		return 50053
	case Cache:
		return 50054
	case Email:
		return 50055
	case File:
		return 50056
	default:
		return 0
	}
}

// State is the coarse, derived health of a service.
type State int

const (
	Unknown State = iota
	Healthy
	Degraded
	Unhealthy
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CircuitState is the circuit breaker's own state, independent of the
// coarse ServiceState derived from it.
type CircuitState int

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (c CircuitState) String() string {
	switch c {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker tracks consecutive failures for a single service and
// transitions Closed -> Open -> HalfOpen -> Closed per the table in spec §4.2.
type CircuitBreaker struct {
	State             CircuitState
	FailureCount      uint32
	FailureThreshold  uint32
	OpenedAt          *time.Time
	RecoveryTimeout   time.Duration
	LastSuccess       *time.Time
	LastFailure       *time.Time
}

func newCircuitBreaker(threshold uint32, recovery time.Duration) CircuitBreaker {
	return CircuitBreaker{
		State:            Closed,
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
	}
}

func (c *CircuitBreaker) recordSuccess(now time.Time) {
	c.FailureCount = 0
	t := now
	c.LastSuccess = &t
	c.State = Closed
	c.OpenedAt = nil
}

func (c *CircuitBreaker) recordFailure(now time.Time) {
	c.FailureCount++
	t := now
	c.LastFailure = &t

	if c.FailureCount >= c.FailureThreshold {
		c.State = Open
		opened := now
		c.OpenedAt = &opened
	}
}

// shouldAllow reports whether a probe/request should be let through right
// now, transitioning Open -> HalfOpen once the recovery timeout has elapsed.
func (c *CircuitBreaker) shouldAllow(now time.Time) bool {
	switch c.State {
	case Open:
		if c.OpenedAt == nil || now.Sub(*c.OpenedAt) >= c.RecoveryTimeout {
			c.State = HalfOpen
			return true
		}
		return false
	default: // Closed, HalfOpen
		return true
	}
}

// Health is a single service's full health record.
type Health struct {
	ServiceID       ServiceID
	State           State
	Circuit         CircuitBreaker
	Endpoint        string
	LastCheck       *time.Time
	ResponseTimeMs  *uint64
}

// StatusEvent is broadcast whenever a service's coarse State transitions.
type StatusEvent struct {
	ServiceID     ServiceID
	PreviousState State
	NewState      State
	Timestamp     time.Time
}

// Config holds configuration for the service coordinator agent.
type Config struct {
	HealthCheckInterval time.Duration
	FailureThreshold    uint32
	RecoveryTimeout     time.Duration
	Endpoints           map[ServiceID]string
	Enabled             bool
}

// DefaultConfig returns the agent's documented defaults, with endpoints
// pointed at each service's default port on localhost.
func DefaultConfig() Config {
	endpoints := make(map[ServiceID]string, len(All()))
	for _, id := range All() {
		endpoints[id] = fmt.Sprintf("http://127.0.0.1:%d", id.DefaultPort())
	}
	return Config{
		HealthCheckInterval: 30 * time.Second,
		FailureThreshold:    5,
		RecoveryTimeout:     60 * time.Second,
		Endpoints:           endpoints,
		Enabled:             true,
	}
}

// StatusSnapshot is the reply to GetServiceStatus.
type StatusSnapshot struct {
	Enabled          bool
	Services         map[ServiceID]ServiceSnapshot
	HealthCheckCount uint64
}

// ServiceSnapshot is the per-service slice of a StatusSnapshot.
type ServiceSnapshot struct {
	State          State
	CircuitState   CircuitState
	ResponseTimeMs *uint64
}

type availableRequest struct {
	serviceID ServiceID
}

type unavailableRequest struct {
	serviceID ServiceID
	reason    string
}

type healthCheckRequest struct {
	serviceID ServiceID
	success   bool
	latencyMs uint64
	reason    string
}

type allowRequest struct {
	serviceID ServiceID
	reply     *reqreply.Channel[bool]
}

type statusRequest struct {
	reply *reqreply.Channel[StatusSnapshot]
}

type subscribeRequest struct {
	reply *reqreply.Channel[*broadcast.Receiver[StatusEvent]]
}

type updateConfigRequest struct {
	config Config
}

const mailboxCapacity = 256
const queryMailboxCapacity = 64

// Agent is the service coordinator actor.
type Agent struct {
	clock clock.Clock

	availableCh   chan availableRequest
	unavailableCh chan unavailableRequest
	healthCheckCh chan healthCheckRequest
	allowCh       chan allowRequest
	statusCh      chan statusRequest
	subscribeCh   chan subscribeRequest
	configCh      chan updateConfigRequest

	config           Config
	services         map[ServiceID]*Health
	statusTx         *broadcast.Sender[StatusEvent]
	healthCheckCount uint64
}

// New creates a service coordinator agent with all six services initialized
// to Unknown/Closed, as required by spec §3 and §8.
func New(cfg Config, c clock.Clock) *Agent {
	if c == nil {
		c = clock.Real{}
	}
	services := make(map[ServiceID]*Health, len(All()))
	for _, id := range All() {
		endpoint := cfg.Endpoints[id]
		services[id] = &Health{
			ServiceID: id,
			State:     Unknown,
			Circuit:   newCircuitBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout),
			Endpoint:  endpoint,
		}
	}
	return &Agent{
		clock:         c,
		availableCh:   make(chan availableRequest, mailboxCapacity),
		unavailableCh: make(chan unavailableRequest, mailboxCapacity),
		healthCheckCh: make(chan healthCheckRequest, mailboxCapacity),
		allowCh:       make(chan allowRequest, queryMailboxCapacity),
		statusCh:      make(chan statusRequest, queryMailboxCapacity),
		subscribeCh:   make(chan subscribeRequest, queryMailboxCapacity),
		configCh:      make(chan updateConfigRequest, mailboxCapacity),
		config:        cfg,
		services:      services,
		statusTx:      broadcast.NewSender[StatusEvent](),
	}
}

// Start runs the actor's single-writer loop until ctx is cancelled.
func (a *Agent) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("component", "servicecoord").Msg("agent stopping")
			return

		case req := <-a.availableCh:
			a.handleAvailable(req)

		case req := <-a.unavailableCh:
			a.handleUnavailable(req)

		case req := <-a.healthCheckCh:
			a.handleHealthCheck(req)

		case req := <-a.allowCh:
			a.handleAllow(req)

		case req := <-a.statusCh:
			req.reply.Reply(a.snapshot())

		case req := <-a.subscribeCh:
			req.reply.Reply(a.statusTx.Subscribe())

		case req := <-a.configCh:
			a.handleUpdateConfig(req)
		}
	}
}

// ServiceAvailable records an external success signal for serviceID.
func (a *Agent) ServiceAvailable(ctx context.Context, serviceID ServiceID) error {
	select {
	case a.availableCh <- availableRequest{serviceID: serviceID}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServiceUnavailable records an external failure signal for serviceID.
func (a *Agent) ServiceUnavailable(ctx context.Context, serviceID ServiceID, reason string) error {
	select {
	case a.unavailableCh <- unavailableRequest{serviceID: serviceID, reason: reason}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthCheckResult is the canonical event posted by a health-probe
// producer (here, internal/proxy after each round trip).
func (a *Agent) HealthCheckResult(ctx context.Context, serviceID ServiceID, success bool, latencyMs uint64, reason string) error {
	req := healthCheckRequest{serviceID: serviceID, success: success, latencyMs: latencyMs, reason: reason}
	select {
	case a.healthCheckCh <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Allow is a synchronous query asking whether the circuit breaker currently
// admits a request to serviceID (Closed or HalfOpen), gating a proxy dial.
func (a *Agent) Allow(ctx context.Context, serviceID ServiceID) (bool, error) {
	reply := reqreply.New[bool]()
	select {
	case a.allowCh <- allowRequest{serviceID: serviceID, reply: reply}:
	default:
		return false, reqreply.ErrReplyTimeout
	}
	return reply.Wait(ctx)
}

// GetServiceStatus returns a snapshot of every service's coarse state,
// circuit state, and last response time.
func (a *Agent) GetServiceStatus(ctx context.Context) (StatusSnapshot, error) {
	reply := reqreply.New[StatusSnapshot]()
	select {
	case a.statusCh <- statusRequest{reply: reply}:
	default:
		return StatusSnapshot{}, reqreply.ErrReplyTimeout
	}
	return reply.Wait(ctx)
}

// Subscribe returns a broadcast receiver of StatusEvent. Subscribers joining
// later never receive historical events.
func (a *Agent) Subscribe(ctx context.Context) (*broadcast.Receiver[StatusEvent], error) {
	reply := reqreply.New[*broadcast.Receiver[StatusEvent]]()
	select {
	case a.subscribeCh <- subscribeRequest{reply: reply}:
	default:
		return nil, reqreply.ErrReplyTimeout
	}
	return reply.Wait(ctx)
}

// UpdateConfig replaces endpoints/thresholds/intervals without resetting
// any circuit's current state.
func (a *Agent) UpdateConfig(ctx context.Context, cfg Config) error {
	select {
	case a.configCh <- updateConfigRequest{config: cfg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) handleAvailable(req availableRequest) {
	h := a.services[req.serviceID]
	now := a.clock.Now()
	h.Circuit.recordSuccess(now)
	a.transition(h, Healthy, now)
}

func (a *Agent) handleUnavailable(req unavailableRequest) {
	h := a.services[req.serviceID]
	now := a.clock.Now()
	h.Circuit.recordFailure(now)
	a.transition(h, a.coarseStateFor(h), now)
}

func (a *Agent) handleHealthCheck(req healthCheckRequest) {
	h := a.services[req.serviceID]
	now := a.clock.Now()

	if req.success {
		h.Circuit.recordSuccess(now)
		ms := req.latencyMs
		h.ResponseTimeMs = &ms
	} else {
		h.Circuit.recordFailure(now)
	}

	h.LastCheck = &now
	a.healthCheckCount++
	a.transition(h, a.coarseStateFor(h), now)
}

func (a *Agent) handleAllow(req allowRequest) {
	h := a.services[req.serviceID]
	now := a.clock.Now()
	req.reply.Reply(h.Circuit.shouldAllow(now))
}

func (a *Agent) handleUpdateConfig(req updateConfigRequest) {
	a.config = req.config
	for id, h := range a.services {
		if endpoint, ok := req.config.Endpoints[id]; ok {
			h.Endpoint = endpoint
		}
		h.Circuit.FailureThreshold = req.config.FailureThreshold
		h.Circuit.RecoveryTimeout = req.config.RecoveryTimeout
	}
}

// coarseStateFor derives the coarse ServiceState from the circuit's own
// state, per spec §4.2: Open -> Unhealthy; Closed with in-flight failures
// below threshold -> Degraded; Closed with no in-flight failures -> Healthy.
func (a *Agent) coarseStateFor(h *Health) State {
	switch h.Circuit.State {
	case Open:
		return Unhealthy
	case HalfOpen:
		return Degraded
	default: // Closed
		if h.Circuit.FailureCount > 0 {
			return Degraded
		}
		return Healthy
	}
}

// transition updates h.State and emits a StatusEvent only if it actually
// changed, per the "emit only on transition" rule.
func (a *Agent) transition(h *Health, newState State, now time.Time) {
	if h.State == newState {
		return
	}
	previous := h.State
	h.State = newState
	a.statusTx.Publish(StatusEvent{
		ServiceID:     h.ServiceID,
		PreviousState: previous,
		NewState:      newState,
		Timestamp:     now,
	})
}

func (a *Agent) snapshot() StatusSnapshot {
	services := make(map[ServiceID]ServiceSnapshot, len(a.services))
	for id, h := range a.services {
		services[id] = ServiceSnapshot{
			State:          h.State,
			CircuitState:   h.Circuit.State,
			ResponseTimeMs: h.ResponseTimeMs,
		}
	}
	return StatusSnapshot{
		Enabled:          a.config.Enabled,
		Services:         services,
		HealthCheckCount: a.healthCheckCount,
	}
}
