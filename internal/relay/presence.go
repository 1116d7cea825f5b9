package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sketchdeck/peerlink/internal/config"
)

// Presence mirrors the set of registered identifiers into an external store
// so the surrounding product can show online badges. It is advisory only:
// failures are logged and never affect relay correctness.
type Presence interface {
	Add(ctx context.Context, id string)
	Remove(ctx context.Context, id string)
}

type NopPresence struct{}

func (NopPresence) Add(context.Context, string)    {}
func (NopPresence) Remove(context.Context, string) {}

const (
	presenceSetKey = "peerlink:peers"
	// presenceTTL re-arms on every registration; the sweeper plus socket
	// teardown normally remove entries long before it fires, so it only
	// matters when the relay dies without cleaning up.
	presenceTTL = 24 * time.Hour

	presenceOpTimeout = 2 * time.Second
)

// RedisPresence is the go-redis backed Presence implementation.
type RedisPresence struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisPresence(cfg config.RedisConfig, logger *slog.Logger) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay: connect to redis: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPresence{client: client, log: logger}, nil
}

func (p *RedisPresence) Add(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, presenceOpTimeout)
	defer cancel()

	pipe := p.client.Pipeline()
	pipe.SAdd(ctx, presenceSetKey, id)
	pipe.Expire(ctx, presenceSetKey, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("presence add failed", "peer_id", id, "err", err)
	}
}

func (p *RedisPresence) Remove(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, presenceOpTimeout)
	defer cancel()

	if err := p.client.SRem(ctx, presenceSetKey, id).Err(); err != nil {
		p.log.Warn("presence remove failed", "peer_id", id, "err", err)
	}
}

func (p *RedisPresence) Close() error {
	return p.client.Close()
}
