package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/open-outreach/internal/browser"
	"github.com/jonathan/open-outreach/internal/config"
	"github.com/jonathan/open-outreach/internal/db"
	"github.com/jonathan/open-outreach/internal/engine"
	"github.com/jonathan/open-outreach/internal/server"
)

var (
	servePort    int
	serveNoAgent bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the execution engine",
	Long:  `Start the REST API together with the worker pool and schedule expander. With --no-agent only the API runs, for deployments where another instance owns the browser.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().BoolVar(&serveNoAgent, "no-agent", false, "Serve the API without the execution engine")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Port = servePort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	srv := server.New(server.Config{Port: cfg.Port, APIKey: cfg.APIKey}, database)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	if !serveNoAgent {
		eng, cleanup := buildEngine(cfg, database)
		defer cleanup()
		g.Go(func() error { return eng.Run(ctx) })
	}

	return g.Wait()
}

// buildEngine wires the worker pool and scheduler over the shared database
// pool. The returned cleanup closes the browser sessions.
func buildEngine(cfg *config.Config, database *db.DB) (*engine.Engine, func()) {
	executor := browser.NewManager(database, browser.Options{
		Headless: cfg.BrowserHeadless,
		StateDir: cfg.BrowserStateDir,
	})

	pool := engine.NewPool(
		database,
		database,
		engine.NewLockManager(),
		engine.NewQuotaTracker(engine.QuotaLimits{
			Connect: cfg.QuotaConnectsPerDay,
			Message: cfg.QuotaMessagesPerDay,
			Post:    cfg.QuotaPostsPerDay,
		}),
		engine.NewBreaker(database, cfg.BreakerThreshold),
		executor,
		engine.PoolConfig{
			Workers:         cfg.WorkerCount,
			PollInterval:    cfg.WorkerPollInterval,
			BatchSize:       cfg.WorkerBatchSize,
			ExecutorTimeout: cfg.ExecutorTimeout,
		},
	)

	scheduler := engine.NewScheduler(database, cfg.SchedulerInterval)

	return engine.New(pool, scheduler), executor.Close
}
