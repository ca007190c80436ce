package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"accusim/internal/amqp"
	"accusim/internal/cache"
	"accusim/internal/cli"
	"accusim/internal/config"
	apphttp "accusim/internal/http"
	"accusim/internal/log"
	"accusim/internal/remote"
	"accusim/internal/remote/memory"
	"accusim/internal/storage"
	"accusim/internal/viewmodel"
)

const (
	cacheSweepInterval = time.Minute
	journalRetention   = 7 * 24 * time.Hour
	journalPruneEvery  = time.Hour
	shutdownTimeout    = 30 * time.Second
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL")).WithComponent(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.GracefulShutdown(logger)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	baseURL := cfg.APIBaseURL
	if cfg.UsesMemoryAPI() {
		store, err := memory.NewFromFile(cfg.MemorySeedFile)
		if err != nil {
			return fmt.Errorf("load memory API: %w", err)
		}
		url, err := serveMemoryAPI(ctx, g, store, logger)
		if err != nil {
			return err
		}
		baseURL = url
		logger.Info("Using in-process remote API", log.FieldURL, baseURL, log.FieldCount, store.Len())
	}

	opts := remote.Options{BaseURL: baseURL, Timeout: cfg.FetchTimeout, Logger: logger}
	if cfg.ResponseCacheTTL > 0 {
		responses := cache.NewLRUCache[[]byte](cfg.ResponseCacheSize, cfg.ResponseCacheTTL)
		opts.Cache = responses
		manager := cache.NewManager(logger)
		manager.Register(responses)
		g.Go(func() error { return manager.Run(ctx, cacheSweepInterval) })
	}
	client, err := remote.NewClient(opts)
	if err != nil {
		return fmt.Errorf("create remote client: %w", err)
	}
	logger.Debug("Remote API client ready", log.FieldURL, client.BaseURL(), "cache_ttl", cfg.ResponseCacheTTL)

	reporters := remote.MultiReporter{remote.NewLogReporter(logger)}
	var (
		journal *storage.Journal
		lister  apphttp.FailureLister
		ready   func(context.Context) error
	)
	if cfg.JournalDBPath != "" {
		journal, err = storage.OpenJournal(cfg.JournalDBPath, logger)
		if err != nil {
			return fmt.Errorf("open failure journal: %w", err)
		}
		defer journal.Close()
		reporters = append(reporters, journal)
		lister, ready = journal, journal.Ping
		g.Go(func() error { return journal.RunPruner(ctx, journalRetention, journalPruneEvery) })
		logger.Info("Failure journal enabled", log.FieldPath, cfg.JournalDBPath)
	}

	deps := viewmodel.Deps{
		Source:   client,
		Reporter: reporters,
		Logger:   logger,
		Location: cfg.Location(),
	}
	if cfg.AMQPURL != "" {
		publisher, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			return fmt.Errorf("connect to AMQP: %w", err)
		}
		defer publisher.Close()
		deps.Publisher = publisher
		logger.Info("Publishing recorded transactions", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	}

	views := viewmodel.NewSet(deps)
	g.Go(func() error { return views.Run(ctx) })

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Views:             views,
		Journal:           lister,
		Ready:             ready,
		Logger:            logger,
		Location:          cfg.Location(),
		PostRatePerMinute: cfg.PostRatePerMinute,
		SettleTimeout:     cfg.FetchTimeout,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = cfg.FetchTimeout + 10*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	g.Go(func() error {
		logger.Info("Starting accusim server",
			"port", cfg.Port,
			"api", cfg.APIBaseURL,
			log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on port %s: %w", cfg.Port, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		return nil
	})

	return g.Wait()
}

// serveMemoryAPI exposes store on a loopback port for the remote client and
// returns its base URL.
func serveMemoryAPI(ctx context.Context, g *errgroup.Group, store *memory.Store, logger *log.Logger) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen for memory API: %w", err)
	}
	srv := &http.Server{Handler: store.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("memory API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Memory API shutdown error", log.FieldError, err)
		}
		return nil
	})
	return "http://" + ln.Addr().String(), nil
}
