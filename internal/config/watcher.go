// Package config handles configuration management and hot reload.
package config

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-gateway/internal/coreactor/hotreload"
)

// ConfigChangeEvent represents a configuration change from Admin API.
type ConfigChangeEvent struct {
	EventType  string                 `json:"event_type"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Action     string                 `json:"action"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// reloadTypeFor maps an Admin API entity type to the hot-reload coordinator's
// ReloadType. "route" and "service" both invalidate the router's compiled
// tree, so both map to ConfigType; "plugin" maps to Policies.
func reloadTypeFor(entityType string) (hotreload.ReloadType, bool) {
	switch entityType {
	case "route", "service":
		return hotreload.ConfigType, true
	case "plugin":
		return hotreload.Policies, true
	default:
		return 0, false
	}
}

// Watcher listens for configuration changes via Redis pub/sub and forwards
// each as a FileChanged message to the hot-reload coordinator, which
// debounces and coalesces bursts before the gateway actually reloads.
type Watcher struct {
	redis     *redis.Client
	hotreload *hotreload.Agent
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(redisClient *redis.Client, hr *hotreload.Agent) *Watcher {
	return &Watcher{
		redis:     redisClient,
		hotreload: hr,
	}
}

// Start begins listening for configuration changes until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	log.Info().Str("component", "config-watcher").Msg("starting configuration watcher")

	pubsub := w.redis.Subscribe(ctx, "gateway:config:changes")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	log.Info().Str("component", "config-watcher").Msg("subscribed to gateway:config:changes")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", "config-watcher").Msg("configuration watcher shutting down")
			return ctx.Err()

		case msg := <-ch:
			if msg == nil {
				continue
			}

			var event ConfigChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Str("component", "config-watcher").Msg("failed to parse config change event")
				continue
			}

			log.Debug().
				Str("component", "config-watcher").
				Str("event_type", event.EventType).
				Str("entity_type", event.EntityType).
				Str("entity_id", event.EntityID).
				Str("action", event.Action).
				Msg("received config change")

			reloadType, ok := reloadTypeFor(event.EntityType)
			if !ok {
				log.Warn().Str("component", "config-watcher").Str("entity_type", event.EntityType).Msg("unknown entity type, ignoring")
				continue
			}

			postCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := w.hotreload.FileChanged(postCtx, reloadType, event.EntityID); err != nil {
				log.Error().Err(err).Str("component", "config-watcher").Msg("failed to post change to hot-reload coordinator")
			}
			cancel()
		}
	}
}

// HealthCheck verifies the watcher is connected to Redis.
func (w *Watcher) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return w.redis.Ping(ctx).Err()
}
