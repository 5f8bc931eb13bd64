// Package redis provides Redis-backed optimizer state and event fan-out.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/config"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

// Ensure implementations satisfy the optimizer ports
var (
	_ optimizer.StateRepository = (*StateRepository)(nil)
	_ optimizer.EventPublisher  = (*Cache)(nil)
)

const defaultChannel = "ouracs:events"

// Cache wraps a Redis client.
type Cache struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewCache creates a new Redis connection.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	channel := cfg.Channel
	if channel == "" {
		channel = defaultChannel
	}
	return &Cache{client: client, channel: channel, logger: logger}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Generic Cache Operations
// =============================================================================

// Get retrieves a value from cache and unmarshals it into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get error: %w", err)
	}

	return json.Unmarshal([]byte(val), dest)
}

// Set stores a value in cache with a TTL. A zero TTL keeps the key forever.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes a key from cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// =============================================================================
// Optimizer State
// =============================================================================

// StateRepository keeps warm-start state in Redis.
type StateRepository struct {
	cache *Cache
	ttl   time.Duration
}

// NewStateRepository creates a state repository. States idle for longer
// than ttl expire; zero disables expiry.
func NewStateRepository(cache *Cache, ttl time.Duration) *StateRepository {
	return &StateRepository{cache: cache, ttl: ttl}
}

func stateKey(datacenterID string) string {
	return fmt.Sprintf("state:%s", datacenterID)
}

// Get retrieves the state of a datacenter.
func (r *StateRepository) Get(ctx context.Context, datacenterID string) (*domain.OptimizerState, error) {
	var s domain.OptimizerState
	if err := r.cache.Get(ctx, stateKey(datacenterID), &s); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Save stores the state of a datacenter.
func (r *StateRepository) Save(ctx context.Context, s *domain.OptimizerState) error {
	return r.cache.Set(ctx, stateKey(s.DatacenterID), s, r.ttl)
}

// Delete removes the state of a datacenter.
func (r *StateRepository) Delete(ctx context.Context, datacenterID string) error {
	return r.cache.Delete(ctx, stateKey(datacenterID))
}

// =============================================================================
// Pub/Sub Operations for Real-time Updates
// =============================================================================

// Publish publishes an optimizer event on the configured channel.
func (c *Cache) Publish(ctx context.Context, event domain.Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.client.Publish(ctx, c.channel, data).Err()
}

// Subscribe returns the events published by any instance. The channel
// closes when ctx is done.
func (c *Cache) Subscribe(ctx context.Context) <-chan domain.Event {
	pubsub := c.client.Subscribe(ctx, c.channel)
	events := make(chan domain.Event, 100)

	go func() {
		defer close(events)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					c.logger.Warn("Failed to unmarshal event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}
