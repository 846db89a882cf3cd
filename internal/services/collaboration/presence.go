package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"collabd/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultPresenceTTL bounds how long a peer stays visible after its
// session stops refreshing, which covers crashed connections that never
// untrack.
const DefaultPresenceTTL = 2 * time.Minute

// RedisPresenceRegistry keeps the per-channel presence state in a Redis
// hash keyed by handle id. Presence is ephemeral: the whole hash carries a
// TTL refreshed on every track, and entries are removed on untrack.
type RedisPresenceRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisPresenceRegistry connects and verifies the Redis backend.
func NewRedisPresenceRegistry(redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisPresenceRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("collaboration: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("collaboration: connect to redis: %w", err)
	}

	return NewRedisPresenceRegistryWithClient(client, ttl, logger), nil
}

// NewRedisPresenceRegistryWithClient wraps an existing client.
func NewRedisPresenceRegistryWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisPresenceRegistry {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisPresenceRegistry{
		client: client,
		prefix: "presence:",
		ttl:    ttl,
		logger: logger,
	}
}

func (r *RedisPresenceRegistry) key(fileID string) string {
	return r.prefix + fileID
}

// Track records a peer on a channel and refreshes the channel's TTL.
func (r *RedisPresenceRegistry) Track(ctx context.Context, fileID string, p models.Presence) error {
	if err := p.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("collaboration: marshal presence: %w", err)
	}

	key := r.key(fileID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, p.ID, payload)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("collaboration: track presence: %w", err)
	}
	return nil
}

// Untrack removes a peer from the channel's registry.
func (r *RedisPresenceRegistry) Untrack(ctx context.Context, fileID, peerID string) error {
	if err := r.client.HDel(ctx, r.key(fileID), peerID).Err(); err != nil {
		return fmt.Errorf("collaboration: untrack presence: %w", err)
	}
	return nil
}

// State returns the validated peers on a channel. Entries that fail
// validation are dropped from the sync instead of being forwarded
// untyped.
func (r *RedisPresenceRegistry) State(ctx context.Context, fileID string) ([]models.Presence, error) {
	entries, err := r.client.HGetAll(ctx, r.key(fileID)).Result()
	if err != nil {
		return nil, fmt.Errorf("collaboration: presence state: %w", err)
	}

	peers := make([]models.Presence, 0, len(entries))
	for peerID, raw := range entries {
		p, err := models.DecodePresence([]byte(raw))
		if err != nil {
			r.logger.Warn("dropping invalid presence entry",
				zap.String("file_id", fileID),
				zap.String("peer_id", peerID),
				zap.Error(err))
			continue
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// Close releases the Redis connection.
func (r *RedisPresenceRegistry) Close() error {
	return r.client.Close()
}
