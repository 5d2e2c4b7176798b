package daemon

import (
	"context"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/session"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	LogLevel    string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideRegistry,
			provideMetrics,
			provideBus,
			provideLock,
			provideRemote,
			provideEngine,
			provideService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.SessionConfig, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	if err := config.LoadDotEnv(session.EnvPath(p.SessionName)); err != nil {
		return nil, err
	}
	cfg, err := config.LoadSession(session.SessionConfigPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, logging.ParseLevel(p.LogLevel))
}

func provideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideBus(m *metrics.Metrics) *bus.Bus {
	b := bus.New()
	b.OnDrop(func(bus.Event) { m.ObserveBusDrop() })
	return b
}

func provideLock(p Params, cfg *config.SessionConfig, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName), lock.Holder{
		Session:     p.SessionName,
		Participant: cfg.Server.ParticipantID,
		Socket:      socketPath(p),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func self(cfg *config.SessionConfig) model.Participant {
	return model.Participant{ID: cfg.Server.ParticipantID, DisplayName: cfg.Server.DisplayName}
}

func provideRemote(cfg *config.SessionConfig, logger *zap.Logger) *remote.Client {
	return remote.NewClient(remote.Options{
		BaseURL: cfg.Server.URL,
		Self:    self(cfg),
		Token:   cfg.Server.Token,
		Logger:  logger.Named("remote"),
	})
}

func provideEngine(client *remote.Client, b *bus.Bus, cfg *config.SessionConfig, m *metrics.Metrics, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(client, client, client, b, intsync.Options{
		Self:            self(cfg),
		PageSize:        cfg.Sync.PageSize,
		PollInterval:    cfg.Sync.PollInterval.Duration,
		PollConcurrency: cfg.Sync.PollConcurrency,
		TypingTimeout:   cfg.Sync.TypingTimeout.Duration,
		TypingInterval:  cfg.Sync.TypingInterval.Duration,
		MatchWindow:     cfg.Sync.MatchWindow.Duration,
	}, m, logger.Named("engine"))
}

func provideService(p Params, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.SessionName, engine, b, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, ms *MetricsServer, lk *lock.Lock, engine *intsync.Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			ms.Start()

			// Load the directory and open subscriptions. Failures leave the
			// engine DEGRADED until the poller recovers.
			engine.Start(context.Background())
			logger.Info("daemon started", zap.String("status", string(engine.Status())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			engine.Stop()
			srv.Stop(ctx)
			ms.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
