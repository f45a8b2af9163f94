package daemon

import (
	"context"

	"github.com/dtavares/wamcp/internal/api"
	"github.com/dtavares/wamcp/internal/bus"
	"github.com/dtavares/wamcp/internal/config"
	"github.com/dtavares/wamcp/internal/conn"
	"github.com/dtavares/wamcp/internal/correlate"
	"github.com/dtavares/wamcp/internal/history"
	"github.com/dtavares/wamcp/internal/ingest"
	"github.com/dtavares/wamcp/internal/lock"
	"github.com/dtavares/wamcp/internal/logging"
	"github.com/dtavares/wamcp/internal/mcpserver"
	"github.com/dtavares/wamcp/internal/session"
	"github.com/dtavares/wamcp/internal/status"
	"github.com/dtavares/wamcp/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds startup options passed to the fx module.
type Params struct {
	ConfigPath string // empty = default under the base dir
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideAdapter,
			provideHistory,
			provideEngine,
			provideSupervisor,
			provideIngestor,
			provideService,
			provideMCPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.Load(path)
}

func provideLogger() (*zap.Logger, error) {
	return logging.New(session.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDirs(cfg.CredentialDir); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(session.LockPath())
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideAdapter(cfg *config.Config, logger *zap.Logger) (*wa.Adapter, error) {
	credDir := cfg.CredentialDir
	if credDir == "" {
		credDir = session.CredentialDir()
	}
	return wa.NewAdapter(context.Background(), credDir, logger)
}

func provideHistory(cfg *config.Config) *history.Store {
	return history.NewStore(cfg.HistoryCapacity)
}

func provideEngine(logger *zap.Logger) *correlate.Engine {
	return correlate.NewEngine(logger)
}

func provideSupervisor(m *status.Machine, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *conn.Supervisor {
	return conn.NewSupervisor(m, adapter, b, logger, conn.Options{
		MaxAttempts:    cfg.ReconnectMaxAttempts,
		Backoff:        cfg.ReconnectBackoff(),
		ConnectTimeout: cfg.ConnectTimeout(),
	})
}

func provideIngestor(b *bus.Bus, hist *history.Store, engine *correlate.Engine, m *status.Machine, logger *zap.Logger) *ingest.Ingestor {
	return ingest.NewIngestor(b, hist, engine, m, logger)
}

func provideService(m *status.Machine, adapter *wa.Adapter, sup *conn.Supervisor, engine *correlate.Engine, hist *history.Store, logger *zap.Logger) *api.Service {
	return api.NewService(m, adapter, sup, engine, hist, logger)
}

func provideMCPServer(svc *api.Service, cfg *config.Config, logger *zap.Logger) *mcpserver.Server {
	return mcpserver.NewServer(svc, cfg, logger)
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, srv *mcpserver.Server, lk *lock.Lock, adapter *wa.Adapter, sup *conn.Supervisor, ing *ingest.Ingestor, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Subscribers first, then the transport event handler, so no
			// event can arrive unobserved.
			ing.Start(context.Background())
			sup.Run(context.Background())

			handler := wa.NewEventHandler(b, adapter.Identity, logger)
			adapter.RegisterEventHandler(handler.Handle)

			// Initial connect. Without stored credentials this starts the
			// QR flow; the challenge is served by show_auth_challenge.
			go func() {
				if err := sup.Connect(context.Background()); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()

			// Serve MCP over stdio; when the client goes away, shut down.
			go func() {
				if err := srv.Run(context.Background()); err != nil {
					logger.Warn("MCP server stopped", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			ing.Stop()
			sup.Stop()
			adapter.Disconnect()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
