// Package persist owns the durable lifecycle of HistoricalContext snapshots:
// a Redis-backed store holding one schema-versioned JSON record per instrument
// and a manager that flushes dirty contexts asynchronously so persistence I/O
// never stalls a live detection cycle.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"StructPulse/internal/domain/models"
	"StructPulse/internal/domain/repository"
	"StructPulse/pkg/logger"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	Prefix       string
}

// RedisOption configures the Redis context store.
type RedisOption func(*RedisConfig)

// WithRedisHost sets the Redis host.
func WithRedisHost(host string) RedisOption {
	return func(c *RedisConfig) {
		c.Host = host
	}
}

// WithRedisPort sets the Redis port.
func WithRedisPort(port int) RedisOption {
	return func(c *RedisConfig) {
		c.Port = port
	}
}

// WithRedisPassword sets the Redis password.
func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
	}
}

// WithRedisDB sets the Redis database number.
func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) {
		c.DB = db
	}
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
		c.PoolTimeout = timeout
	}
}

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		c.Prefix = prefix
	}
}

// RedisStore implements repository.ContextStore on Redis. Records are JSON
// snapshots keyed by instrument; a stored record whose schema version does not
// match the current one is discarded on load rather than migrated in place.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(log *logger.Logger, opts ...RedisOption) (*RedisStore, error) {
	cfg := &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
		MinIdleConns: 5,
		Prefix:       "structpulse",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  cfg.PoolTimeout,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, prefix: cfg.Prefix, log: log}, nil
}

// Load fetches the snapshot for an instrument. A missing record or a schema
// version mismatch yields repository.ErrContextNotFound so the caller starts
// an empty context instead of crashing on stale data.
func (s *RedisStore) Load(ctx context.Context, instrument string) (*models.ContextSnapshot, error) {
	data, err := s.client.Get(ctx, s.key(instrument)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrContextNotFound
		}
		return nil, fmt.Errorf("load context %s: %w", instrument, err)
	}

	var snap models.ContextSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode context %s: %w", instrument, err)
	}
	if snap.SchemaVersion != models.ContextSchemaVersion {
		if s.log != nil {
			s.log.Warn("discarding context record, schema mismatch",
				logger.String("instrument", instrument),
				logger.Int("stored", snap.SchemaVersion),
				logger.Int("current", models.ContextSchemaVersion))
		}
		return nil, repository.ErrContextNotFound
	}
	return &snap, nil
}

// Save writes the snapshot for its instrument, overwriting the prior record.
func (s *RedisStore) Save(ctx context.Context, snap *models.ContextSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode context %s: %w", snap.Instrument, err)
	}
	if err := s.client.Set(ctx, s.key(snap.Instrument), data, 0).Err(); err != nil {
		return fmt.Errorf("save context %s: %w", snap.Instrument, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(instrument string) string {
	return fmt.Sprintf("%s:context:%s", s.prefix, instrument)
}
