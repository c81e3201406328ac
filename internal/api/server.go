package api

import (
	"context"
	"os"
	"strings"

	"routerisk/internal/auth"
	"routerisk/internal/bulk"
	"routerisk/internal/config"
	"routerisk/internal/store"
	"routerisk/internal/webhooks"
)

type Server struct {
	Cfg    config.Config
	Store  store.Store
	Auth   *auth.Verifier
	Broker EventBroker
	Bulk   *bulk.Controller
	Pub    *webhooks.Publisher
}

// NewServer wires the service from config and environment. If DATABASE_URL is
// unset, uses the in-memory store.
func NewServer() (*Server, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return nil, err
	}

	var st store.Store
	if strings.TrimSpace(cfg.Database.URL) == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			_ = pg.MigrateDir("db/migrations")
		}
		st = pg
	}

	var broker EventBroker
	if cfg.Redis.URL != "" {
		if rb, err := NewRedisBroker(cfg.Redis.URL); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	pub := webhooks.NewPublisher(st)
	ctrl := bulk.NewController(st, cfg.Bulk, brokerSink{broker: broker}, pub)

	return &Server{
		Cfg:    cfg,
		Store:  st,
		Auth:   auth.NewVerifierFromEnv(),
		Broker: broker,
		Bulk:   ctrl,
		Pub:    pub,
	}, nil
}

// NewWebhookWorker creates the background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}

// Ready reports whether the backing store is reachable.
func (s *Server) Ready(ctx context.Context) error {
	if pg, ok := s.Store.(*store.Postgres); ok {
		return pg.Ping(ctx)
	}
	return nil
}
