// Package gateway provides the main gateway logic and hot-reload handling.
package gateway

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-gateway/internal/coreactor/broadcast"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/hotreload"
	"github.com/saidutt46/switchboard-gateway/internal/database"
	"github.com/saidutt46/switchboard-gateway/internal/plugin"
	"github.com/saidutt46/switchboard-gateway/internal/router"
)

// Gateway handles HTTP proxying and reloads its router/plugin state in
// response to debounced ReloadEvent broadcasts from the hot-reload
// coordinator.
type Gateway struct {
	router   *router.Router
	repo     *database.Repository
	registry *plugin.Registry
}

// New creates a new Gateway instance.
func New(router *router.Router, repo *database.Repository, registry *plugin.Registry) *Gateway {
	return &Gateway{
		router:   router,
		repo:     repo,
		registry: registry,
	}
}

// Run drains ReloadEvent from recv and reloads the router/plugin chain for
// each, until ctx is cancelled or recv is closed. Intended to run in its own
// goroutine, subscribed via the hot-reload coordinator's Subscribe call.
func (g *Gateway) Run(ctx context.Context, recv *broadcast.Receiver[hotreload.ReloadEvent]) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-recv.C():
			if !ok {
				return
			}
			g.handleReload(ev)
		}
	}
}

// handleReload reloads the plugin chain and router for a single debounced
// ReloadEvent. Every reload type reloads both: plugins first (a failure
// keeps the previous plugin chain), then routes and services.
func (g *Gateway) handleReload(ev hotreload.ReloadEvent) {
	log.Info().
		Str("component", "gateway").
		Str("reload_type", ev.ReloadType.String()).
		Int("paths", len(ev.Paths)).
		Msg("applying debounced reload")

	ctx := context.Background()

	if g.registry != nil {
		if err := g.registry.Reload(ctx, g.repo); err != nil {
			log.Error().Err(err).Str("component", "gateway").Msg("failed to reload plugins, keeping previous plugin chain")
		}
	}

	if err := g.router.Reload(ctx, g.repo); err != nil {
		log.Error().Err(err).Str("component", "gateway").Str("reload_type", ev.ReloadType.String()).Msg("failed to reload router")
		return
	}

	log.Info().Str("component", "gateway").Str("reload_type", ev.ReloadType.String()).Msg("reload applied successfully")
}
