package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zerolock-network/zerolock/internal/codec"
	"github.com/zerolock-network/zerolock/internal/domain"
)

var _ domain.EventPublisher = (*Redis)(nil)

var (
	ErrNoURL  = errors.New("events: no redis URL defined")
	ErrBadURL = errors.New("events: redis URL is invalid")
)

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	URL     string
	Channel string
	Timeout time.Duration
}

// Valid checks the configuration without dialing.
func (c RedisConfig) Valid() error {
	if c.URL == "" {
		return ErrNoURL
	}
	if _, err := redis.ParseURL(c.URL); err != nil {
		return fmt.Errorf("%w: %v", ErrBadURL, err)
	}
	return nil
}

// redisClient is satisfied by *redis.Client.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Redis publishes CBOR-encoded events on a pub/sub channel.
type Redis struct {
	client  redisClient
	channel string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedis dials the server in cfg.URL and verifies it answers PING.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadURL, err)
	}
	client := redis.NewClient(opts)

	r := newRedis(client, cfg, logger)
	pingCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("events: redis ping: %w", err)
	}
	return r, nil
}

func newRedis(client redisClient, cfg RedisConfig, logger *slog.Logger) *Redis {
	if cfg.Channel == "" {
		cfg.Channel = "zerolock.events"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Redis{
		client:  client,
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "events", "sink", "redis"),
	}
}

// Publish sends evt. The caller's cancellation does not abort delivery of an
// event whose state change already committed.
func (r *Redis) Publish(ctx context.Context, evt domain.Event) {
	data, err := codec.Marshal(evt)
	if err != nil {
		r.logger.Error("encode event", "kind", evt.Kind, "err", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, data).Err(); err != nil {
		r.logger.Warn("publish event", "kind", evt.Kind, "challenge_id", evt.ChallengeID, "err", err)
	}
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Decode parses a payload received from the channel.
func Decode(payload []byte) (domain.Event, error) {
	var evt domain.Event
	err := codec.Unmarshal(payload, &evt)
	return evt, err
}
