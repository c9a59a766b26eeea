// Package hotreload implements the Hot-Reload Coordinator agent: it
// collapses a burst of FileChanged events into at most one ReloadEvent per
// reload type per debounce window, and broadcasts it.
//
// Grounded in the original acton-reactive agent this was distilled from —
// acton-dx/src/htmx/agents/hot_reload.rs — for the debounce/pending-change
// bookkeeping.
package hotreload

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-gateway/internal/coreactor/broadcast"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/clock"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/reqreply"
)

// ReloadType is a closed enum of resource categories that can be hot-reloaded.
type ReloadType int

const (
	Templates ReloadType = iota
	ConfigType
	Policies
	Assets
)

// All returns every ReloadType, in stable order.
func All() []ReloadType {
	return []ReloadType{Templates, ConfigType, Policies, Assets}
}

func (r ReloadType) String() string {
	switch r {
	case Templates:
		return "templates"
	case ConfigType:
		return "config"
	case Policies:
		return "policies"
	case Assets:
		return "assets"
	default:
		return "unknown"
	}
}

const defaultDebounce = 100 * time.Millisecond

// Config holds per-type debounce durations and the global enable flag.
type Config struct {
	Debounce   map[ReloadType]time.Duration
	WatchPaths map[ReloadType][]string
	Enabled    bool
}

// DefaultConfig returns 100ms debounce for every reload type, enabled.
func DefaultConfig() Config {
	debounce := make(map[ReloadType]time.Duration, len(All()))
	for _, rt := range All() {
		debounce[rt] = defaultDebounce
	}
	return Config{
		Debounce:   debounce,
		WatchPaths: make(map[ReloadType][]string),
		Enabled:    true,
	}
}

func (c Config) debounceFor(rt ReloadType) time.Duration {
	if d, ok := c.Debounce[rt]; ok && d > 0 {
		return d
	}
	return defaultDebounce
}

// ReloadEvent is broadcast once pending changes for a reload type have been
// quiet for at least its debounce duration.
type ReloadEvent struct {
	ReloadType ReloadType
	Paths      []string
	Timestamp  time.Time
}

// Stats is the reply to GetStats.
type Stats struct {
	Enabled      bool
	PendingTypes []ReloadType
	ReloadCount  uint64
}

// pendingChange tracks paths accumulated since the last emission for one
// reload type.
type pendingChange struct {
	paths      map[string]struct{}
	lastChange time.Time
}

func newPendingChange(path string, now time.Time) *pendingChange {
	return &pendingChange{
		paths:      map[string]struct{}{path: {}},
		lastChange: now,
	}
}

func (p *pendingChange) addPath(path string, now time.Time) {
	p.paths[path] = struct{}{}
	p.lastChange = now
}

func (p *pendingChange) shouldTrigger(debounce time.Duration, now time.Time) bool {
	return now.Sub(p.lastChange) >= debounce
}

func (p *pendingChange) pathSlice() []string {
	out := make([]string, 0, len(p.paths))
	for p := range p.paths {
		out = append(out, p)
	}
	return out
}

type fileChangedRequest struct {
	reloadType ReloadType
	path       string
}

type forceReloadRequest struct {
	reloadType ReloadType
}

type statsRequest struct {
	reply *reqreply.Channel[Stats]
}

type subscribeRequest struct {
	reply *reqreply.Channel[*broadcast.Receiver[ReloadEvent]]
}

type updateConfigRequest struct {
	config Config
}

const mailboxCapacity = 256
const queryMailboxCapacity = 64

// Agent is the hot-reload coordinator actor.
type Agent struct {
	clock clock.Clock

	fileChangedCh chan fileChangedRequest
	forceReloadCh chan forceReloadRequest
	tickCh        chan struct{}
	statsCh       chan statsRequest
	subscribeCh   chan subscribeRequest
	configCh      chan updateConfigRequest

	config         Config
	pendingChanges map[ReloadType]*pendingChange
	reloadTx       *broadcast.Sender[ReloadEvent]
	reloadCount    uint64
}

// New creates a hot-reload coordinator agent.
func New(cfg Config, c clock.Clock) *Agent {
	if c == nil {
		c = clock.Real{}
	}
	return &Agent{
		clock:          c,
		fileChangedCh:  make(chan fileChangedRequest, mailboxCapacity),
		forceReloadCh:  make(chan forceReloadRequest, mailboxCapacity),
		tickCh:         make(chan struct{}, 1),
		statsCh:        make(chan statsRequest, queryMailboxCapacity),
		subscribeCh:    make(chan subscribeRequest, queryMailboxCapacity),
		configCh:       make(chan updateConfigRequest, mailboxCapacity),
		config:         cfg,
		pendingChanges: make(map[ReloadType]*pendingChange),
		reloadTx:       broadcast.NewSender[ReloadEvent](),
	}
}

// Start runs the actor's single-writer loop and its periodic
// TriggerPendingReloads tick until ctx is cancelled. The tick interval is
// the smallest debounce configured when Start is called, capped at the
// 100ms default; an UpdateConfig afterwards does not change it.
func (a *Agent) Start(ctx context.Context) {
	ticker := time.NewTicker(a.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("component", "hotreload").Msg("agent stopping")
			return

		case req := <-a.fileChangedCh:
			a.handleFileChanged(req)

		case req := <-a.forceReloadCh:
			a.handleForceReload(req)

		case <-a.tickCh:
			a.handleTriggerPendingReloads()

		case req := <-a.statsCh:
			req.reply.Reply(a.snapshotStats())

		case req := <-a.subscribeCh:
			req.reply.Reply(a.reloadTx.Subscribe())

		case req := <-a.configCh:
			a.config = req.config

		case <-ticker.C:
			select {
			case a.tickCh <- struct{}{}:
			default:
			}
		}
	}
}

func (a *Agent) tickInterval() time.Duration {
	min := defaultDebounce
	for _, rt := range All() {
		d := a.config.debounceFor(rt)
		if d < min {
			min = d
		}
	}
	return min
}

// FileChanged posts a single changed path for reloadType. The handler drops
// it silently when hot reload is disabled (Config.Enabled is false). There
// is no per-type enable flag: while enabled, every reload type is accepted.
func (a *Agent) FileChanged(ctx context.Context, reloadType ReloadType, path string) error {
	select {
	case a.fileChangedCh <- fileChangedRequest{reloadType: reloadType, path: path}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceReload emits a ReloadEvent immediately with whatever paths are
// currently pending (or an empty set), then clears the pending entry.
func (a *Agent) ForceReload(ctx context.Context, reloadType ReloadType) error {
	select {
	case a.forceReloadCh <- forceReloadRequest{reloadType: reloadType}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns a snapshot of the agent's pending types and reload count.
func (a *Agent) GetStats(ctx context.Context) (Stats, error) {
	reply := reqreply.New[Stats]()
	select {
	case a.statsCh <- statsRequest{reply: reply}:
	default:
		return Stats{}, reqreply.ErrReplyTimeout
	}
	return reply.Wait(ctx)
}

// Subscribe returns a broadcast receiver of ReloadEvent.
func (a *Agent) Subscribe(ctx context.Context) (*broadcast.Receiver[ReloadEvent], error) {
	reply := reqreply.New[*broadcast.Receiver[ReloadEvent]]()
	select {
	case a.subscribeCh <- subscribeRequest{reply: reply}:
	default:
		return nil, reqreply.ErrReplyTimeout
	}
	return reply.Wait(ctx)
}

// UpdateConfig replaces debounce durations and the enable flag; pending
// entries are preserved across the update.
func (a *Agent) UpdateConfig(ctx context.Context, cfg Config) error {
	select {
	case a.configCh <- updateConfigRequest{config: cfg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) handleFileChanged(req fileChangedRequest) {
	if !a.config.Enabled {
		return
	}
	now := a.clock.Now()
	pc, ok := a.pendingChanges[req.reloadType]
	if !ok {
		a.pendingChanges[req.reloadType] = newPendingChange(req.path, now)
		return
	}
	pc.addPath(req.path, now)
}

func (a *Agent) handleForceReload(req forceReloadRequest) {
	now := a.clock.Now()
	var paths []string
	if pc, ok := a.pendingChanges[req.reloadType]; ok {
		paths = pc.pathSlice()
		delete(a.pendingChanges, req.reloadType)
	}
	a.reloadCount++
	a.reloadTx.Publish(ReloadEvent{ReloadType: req.reloadType, Paths: paths, Timestamp: now})
}

func (a *Agent) handleTriggerPendingReloads() {
	now := a.clock.Now()
	for rt, pc := range a.pendingChanges {
		debounce := a.config.debounceFor(rt)
		if !pc.shouldTrigger(debounce, now) {
			continue
		}
		paths := pc.pathSlice()
		delete(a.pendingChanges, rt)
		a.reloadCount++
		a.reloadTx.Publish(ReloadEvent{ReloadType: rt, Paths: paths, Timestamp: now})
	}
}

func (a *Agent) snapshotStats() Stats {
	pending := make([]ReloadType, 0, len(a.pendingChanges))
	for rt := range a.pendingChanges {
		pending = append(pending, rt)
	}
	return Stats{
		Enabled:      a.config.Enabled,
		PendingTypes: pending,
		ReloadCount:  a.reloadCount,
	}
}
