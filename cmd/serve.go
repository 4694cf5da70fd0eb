// -- cmd/serve.go --
package cmd

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chaser/internal/browser"
	"github.com/xkilldash9x/chaser/internal/cdp"
	"github.com/xkilldash9x/chaser/internal/events"
	"github.com/xkilldash9x/chaser/internal/launcher"
	"github.com/xkilldash9x/chaser/internal/observability"
	"github.com/xkilldash9x/chaser/internal/session"
	"github.com/xkilldash9x/chaser/internal/stealth"
)

// shutdownDeadline is the hard cap on graceful teardown.
const shutdownDeadline = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration core and wait for shutdown.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		catalog := stealth.NewCatalog(rand.New(rand.NewSource(time.Now().UnixNano())))
		injector := stealth.NewInjector(catalog, logger)
		dispatcher := events.NewDispatcher(cfg.Events.BufferSize, logger)

		launch := launcher.New(cfg.Browser, logger)
		registry := session.NewRegistry(cfg.Session, launch.Hook(), logger,
			session.WithEventSink(dispatcher),
			session.WithDialer(func(ctx context.Context, wsURL string) (session.Conn, error) {
				return cdp.Dial(ctx, wsURL, logger, cdp.WithDefaultTimeout(cfg.CDP.DefaultCommandTimeout))
			}),
			session.WithPageInitHook(func(ctx context.Context, conn session.Conn, sessionID, profileID string) ([]string, error) {
				if !cfg.Stealth.Enabled {
					return nil, nil
				}
				return injector.Install(ctx, conn, sessionID, profileID)
			}),
		)
		registry.StartJanitor()

		svc := browser.NewService(*cfg, registry, dispatcher, injector, logger)
		_ = svc // The RPC layer binds the service surface; it is attached out of tree.

		logger.Info("core ready",
			zap.String("listen_host", cfg.Server.Host),
			zap.Int("listen_port", cfg.Server.Port),
			zap.Int("max_browsers", cfg.Session.MaxBrowsers))

		// Block until a shutdown signal, then tear everything down in
		// parallel under the hard deadline.
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		sig := <-stop
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		if err := registry.Shutdown(ctx); err != nil {
			logger.Warn("registry shutdown incomplete", zap.Error(err))
		}
		dispatcher.Shutdown()
		observability.Sync()
		return nil
	},
}
