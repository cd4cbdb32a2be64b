package clinic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store provides persistence for clinic schedule configurations.
type Store struct {
	redis *redis.Client
}

// NewStore creates a clinic config store.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(slug string) string {
	return fmt.Sprintf("clinic:config:%s", slug)
}

// Get retrieves clinic config, returning the default config if not found.
func (s *Store) Get(ctx context.Context, slug string) (*ScheduleConfig, error) {
	data, err := s.redis.Get(ctx, s.key(slug)).Bytes()
	if err == redis.Nil {
		return DefaultConfig(slug), nil
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get config: %w", err)
	}

	var cfg ScheduleConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("clinic: unmarshal config: %w", err)
	}
	if cfg.Slug == "" {
		cfg.Slug = slug
	}
	return &cfg, nil
}

// Set saves clinic config.
func (s *Store) Set(ctx context.Context, cfg *ScheduleConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.Slug), data, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set config: %w", err)
	}
	return nil
}
