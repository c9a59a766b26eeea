// Package eventbridge forwards coordination-core broadcast events
// (ServiceStatusEvent, ReloadEvent) onto external sinks — a Kafka topic and
// a Redis pub/sub channel — for consumption by an analytics dashboard or
// log aggregator outside the gateway process.
//
// This is pure fan-out: the bridge holds no state that any actor query
// reads, never feeds anything back into an actor's mailbox, and never
// blocks a publisher. A slow or unreachable sink only produces a logged
// warning, consistent with the coordination core's "lossy to slow
// subscribers" concurrency model (spec §5, §9).
package eventbridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/saidutt46/switchboard-gateway/internal/coreactor/broadcast"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/hotreload"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/servicecoord"
)

// Config configures the event bridge's two external sinks. Either sink may
// be left zero-valued to disable it; the bridge still runs with whichever
// sinks are configured.
type Config struct {
	// KafkaBrokers, when non-empty, publishes every event as JSON to Topic.
	KafkaBrokers []string
	Topic        string

	// RedisAddr, when non-empty, publishes every event as JSON to Channel.
	RedisAddr string
	Channel   string
}

// Bridge owns the two sink clients and the broadcast subscriptions it
// drains from.
type Bridge struct {
	cfg         Config
	kafkaWriter *kafka.Writer
	redisClient *redis.Client
}

// New constructs a Bridge. Sinks are only dialed lazily on first publish
// attempt by the underlying clients (both the kafka-go Writer and the
// go-redis Client are safe to construct without a live connection).
func New(cfg Config) *Bridge {
	b := &Bridge{cfg: cfg}

	if len(cfg.KafkaBrokers) > 0 && cfg.Topic != "" {
		b.kafkaWriter = &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
		}
	}

	if cfg.RedisAddr != "" {
		b.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	return b
}

// Close releases the sink clients.
func (b *Bridge) Close() error {
	var err error
	if b.kafkaWriter != nil {
		if cerr := b.kafkaWriter.Close(); cerr != nil {
			err = cerr
		}
	}
	if b.redisClient != nil {
		if cerr := b.redisClient.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

// RunServiceEvents drains status events from recv and forwards each until
// ctx is cancelled or the receiver is closed from elsewhere. Intended to be
// run in its own goroutine, mirroring the teacher's watcher goroutine shape.
func (b *Bridge) RunServiceEvents(ctx context.Context, recv *broadcast.Receiver[servicecoord.StatusEvent]) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-recv.C():
			if !ok {
				return
			}
			b.publish(ctx, "service_status", map[string]any{
				"service_id":     ev.ServiceID.String(),
				"previous_state": ev.PreviousState.String(),
				"new_state":      ev.NewState.String(),
				"timestamp":      ev.Timestamp,
			})
		}
	}
}

// RunReloadEvents drains reload events from recv and forwards each.
func (b *Bridge) RunReloadEvents(ctx context.Context, recv *broadcast.Receiver[hotreload.ReloadEvent]) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-recv.C():
			if !ok {
				return
			}
			b.publish(ctx, "reload", map[string]any{
				"reload_type": ev.ReloadType.String(),
				"paths":       ev.Paths,
				"timestamp":   ev.Timestamp,
			})
		}
	}
}

func (b *Bridge) publish(ctx context.Context, kind string, payload map[string]any) {
	payload["kind"] = kind
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("component", "eventbridge").Str("kind", kind).Msg("failed to marshal event")
		return
	}

	if b.kafkaWriter != nil {
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := b.kafkaWriter.WriteMessages(writeCtx, kafka.Message{Value: body}); err != nil {
			log.Warn().Err(err).Str("component", "eventbridge").Str("sink", "kafka").Msg("failed to publish event")
		}
	}

	if b.redisClient != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := b.redisClient.Publish(pubCtx, b.cfg.Channel, body).Err(); err != nil {
			log.Warn().Err(err).Str("component", "eventbridge").Str("sink", "redis").Msg("failed to publish event")
		}
	}
}
