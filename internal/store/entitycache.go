// internal/store/entitycache.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobmarket-client/internal/common/config"
	"jobmarket-client/internal/common/logger"
	"jobmarket-client/internal/models"
)

const (
	applicationKeyPrefix = "jobmarket:application:"
	applicationTTL       = 24 * time.Hour
)

// EntityCache is the write-through cache for application entities. Misses
// return (nil, nil); callers fall back to the in-memory state or the entity
// store.
type EntityCache struct {
	client *redis.Client
	logger logger.Logger
}

func NewEntityCache(cfg config.RedisConfig, log logger.Logger) (*EntityCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}

	return &EntityCache{
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "entity_cache"}),
	}, nil
}

func (c *EntityCache) Put(ctx context.Context, app *models.Application) error {
	if app == nil || app.ID == "" {
		return fmt.Errorf("entity cache: application without id")
	}

	raw, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("entity cache: marshal %s: %w", app.ID, err)
	}
	return c.client.Set(ctx, applicationKeyPrefix+app.ID, raw, applicationTTL).Err()
}

func (c *EntityCache) Get(ctx context.Context, id string) (*models.Application, error) {
	raw, err := c.client.Get(ctx, applicationKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("entity cache: get %s: %w", id, err)
	}

	var app models.Application
	if err := json.Unmarshal(raw, &app); err != nil {
		return nil, fmt.Errorf("entity cache: decode %s: %w", id, err)
	}
	return &app, nil
}

func (c *EntityCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, applicationKeyPrefix+id).Err()
}

func (c *EntityCache) Close() error {
	return c.client.Close()
}
