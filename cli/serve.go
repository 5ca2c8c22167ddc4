package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/depictio/depictio/api"
	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/config"
	"github.com/depictio/depictio/diagnostics"
	"github.com/depictio/depictio/events"
	depictiohttp "github.com/depictio/depictio/http"
	"github.com/depictio/depictio/join"
	"github.com/depictio/depictio/links"
	"github.com/depictio/depictio/metastore"
	"github.com/depictio/depictio/query"
	"github.com/depictio/depictio/scan"
	"github.com/depictio/depictio/storage"
	"github.com/depictio/depictio/version"
)

// newServeCmd runs the backend API server: metadata store, object store,
// event bus, lock manager and every engine wired behind the HTTP routes.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the depictio backend API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.LoadAll("DEPICTIO")
			if err != nil {
				return withExitCode(ExitConfig, err)
			}

			log := common.ServiceLogger("depictio-backend", version.Version)
			log.Info("Starting depictio backend")

			store, err := metastore.New(ctx, cfg.Metastore)
			if err != nil {
				return withExitCode(ExitIO, err)
			}
			defer store.Close()

			objects, err := storage.NewS3Store(ctx, cfg.S3)
			if err != nil {
				return withExitCode(ExitIO, err)
			}
			if err := objects.EnsureBucket(ctx); err != nil {
				return withExitCode(ExitIO, err)
			}
			tables := storage.NewDeltaStore(objects, cfg.S3.Bucket)

			bus := events.NewBus(cfg.Events)

			locks, err := events.NewLockManager(cfg.Redis)
			if err != nil {
				// The lock manager is best-effort dedup: a misconfigured
				// Redis degrades to fail-open, it does not stop the server.
				log.WithError(err).Warn("Lock manager unavailable, running without dedup")
				locks = nil
			} else {
				defer locks.Close()
			}

			linkEngine := links.NewEngine(links.NewRegistry(), tables)

			handlers := &api.Handlers{
				Projects: store,
				Scanner:  scan.NewEngine(store, store, bus),
				Joins:    join.NewEngine(tables, store, bus),
				Links:    linkEngine,
				Queries:  query.NewPipeline(tables, linkEngine),
				Bus:      bus,
				Locks:    locks,
				Auth:     cfg.Auth,
				Events:   cfg.Events,
				Diagnostics: diagnostics.Config{
					Hostnames:   []string{"depictio-backend", "mongo", "minio", "redis"},
					ServiceURLs: map[string]string{"self": "http://localhost:8058/health"},
					Timeout:     5 * time.Second,
				},
			}

			serverCfg := depictiohttp.DefaultServerConfig()
			serverCfg.Port = cfg.Server.Port
			serverCfg.Debug = cfg.Server.Debug
			serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

			e := depictiohttp.NewEchoServer(serverCfg)
			api.SetupRoutes(e, handlers)

			log.Infof("Listening on :%d", cfg.Server.Port)
			if err := depictiohttp.Start(ctx, e, serverCfg); err != nil {
				return withExitCode(ExitIO, err)
			}
			log.Info("Server stopped")
			return nil
		},
	}
}

// runDiagnostics executes the probes with the server's default targets.
func runDiagnostics(ctx context.Context) *diagnostics.Report {
	return diagnostics.Run(ctx, diagnostics.Config{
		Hostnames:   []string{"depictio-backend", "mongo", "minio", "redis"},
		ServiceURLs: map[string]string{"self": "http://localhost:8058/health"},
		Timeout:     5 * time.Second,
	})
}
