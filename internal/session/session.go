// internal/session/session.go
package session

import (
	"context"
	"fmt"
	"sync"

	"jobmarket-client/internal/api"
	"jobmarket-client/internal/common/config"
	"jobmarket-client/internal/common/logger"
	"jobmarket-client/internal/common/observability"
	"jobmarket-client/internal/engine"
	"jobmarket-client/internal/events"
	"jobmarket-client/internal/store"
)

// Session owns one wired instance of the client core: request layer, push
// channel, dispatcher, transition engine, and the optional redis entity
// cache. It is the single construction and teardown point.
type Session struct {
	cfg *config.Config
	log logger.Logger

	client      *api.Client
	entityCache *store.EntityCache
	dispatcher  *events.Dispatcher
	channel     *events.Channel
	engine      *engine.Engine

	closeOnce sync.Once
}

func New(ctx context.Context, cfg *config.Config, obs *observability.Observability, log logger.Logger) (*Session, error) {
	client, err := api.NewClient(cfg.API, cfg.Cache, log)
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}

	var entityCache *store.EntityCache
	if cfg.Redis.Enabled {
		entityCache, err = store.NewEntityCache(cfg.Redis, log)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("create entity cache: %w", err)
		}
	}

	notifier, err := engine.NewNotifier(ctx, cfg.Notifications, log)
	if err != nil {
		if entityCache != nil {
			_ = entityCache.Close()
		}
		_ = client.Close()
		return nil, fmt.Errorf("create notifier: %w", err)
	}

	dispatcher := events.NewDispatcher(log)
	eng := engine.New(cfg.Engine, client, notifier, dispatcher, entityCache, obs, log)
	channel := events.NewChannel(cfg.Channel, client.Endpoints(), dispatcher, nil, log)

	return &Session{
		cfg:         cfg,
		log:         log.WithFields(map[string]interface{}{"component": "session"}),
		client:      client,
		entityCache: entityCache,
		dispatcher:  dispatcher,
		channel:     channel,
		engine:      eng,
	}, nil
}

// Start connects the push channel, announces the user, and hydrates entity
// state. A failed hydration is tolerated; pushed events reconcile state as
// they arrive.
func (s *Session) Start(ctx context.Context) error {
	if err := s.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect push channel: %w", err)
	}

	if s.cfg.App.UserID != "" {
		if err := s.channel.Join(ctx, s.cfg.App.UserID); err != nil {
			s.log.Warn("join emission failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if err := s.engine.Hydrate(ctx); err != nil {
		s.log.Warn("initial hydration failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}

func (s *Session) Client() *api.Client            { return s.client }
func (s *Session) Channel() *events.Channel       { return s.channel }
func (s *Session) Dispatcher() *events.Dispatcher { return s.dispatcher }
func (s *Session) Engine() *engine.Engine         { return s.engine }

// Close tears everything down. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := s.channel.Teardown(); err != nil {
			s.log.Error("channel teardown failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if err := s.client.Close(); err != nil {
			s.log.Error("api client close failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if s.entityCache != nil {
			if err := s.entityCache.Close(); err != nil {
				s.log.Error("entity cache close failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	})
	return nil
}
