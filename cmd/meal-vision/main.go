// cmd/meal-vision/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"mcp-meal-vision/internal/config"
	"mcp-meal-vision/internal/job"
	"mcp-meal-vision/internal/logging"
	"mcp-meal-vision/internal/notify"
	"mcp-meal-vision/internal/photo"
	"mcp-meal-vision/internal/server"
	"mcp-meal-vision/internal/status"
	"mcp-meal-vision/internal/storage"
	"mcp-meal-vision/internal/vision"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	port       = flag.Int("port", 0, "Port for HTTP transport")
	host       = flag.String("host", "", "Host address")
	address    = flag.String("address", "", "Address (alias for host)")
	dbPath     = flag.String("db-path", "", "Database path")
	analyze    = flag.String("analyze", "", "Comma-separated photo references to analyze once, then exit")
	version    = flag.Bool("version", false, "Show version")
)

const shutdownTimeout = 15 * time.Second

// app holds the wired components shared by both modes.
type app struct {
	cfg     *config.Config
	logger  *log.Logger
	store   *storage.SQLiteStorage
	manager *job.Manager
	memory  *notify.MemoryChannel
	bus     *notify.BusChannel
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("mcp-meal-vision version %s\n", server.Version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "meal-vision: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loaded, err := config.NewLoader(*configPath).Load(ctx)
	if err != nil {
		return err
	}
	cfg := loaded.Config

	hostAddr := *host
	if *address != "" {
		hostAddr = *address
	}
	cfg.Apply(config.Overrides{Host: hostAddr, Port: *port, DBPath: *dbPath})
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := build(cfg, loaded.Credentials(), logger)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if *analyze != "" {
		return a.analyzeOnce(ctx, strings.Split(*analyze, ","))
	}
	return a.serve(ctx)
}

func build(cfg *config.Config, creds vision.CredentialsProvider, logger *log.Logger) (*app, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	intake := photo.NewIntake(
		photo.NewFileSource(cfg.Photo.MaxBytes),
		photo.NewEncoder(photo.Limits{
			MaxBytes:       cfg.Photo.MaxBytes,
			MaxWidth:       cfg.Photo.MaxWidth,
			MaxHeight:      cfg.Photo.MaxHeight,
			AllowedFormats: cfg.Photo.AllowedFormats,
		}, logger),
	)

	client := vision.NewClient(creds, intake, vision.Options{
		Timeout:           cfg.Vision.Timeout,
		MaxTokens:         cfg.Vision.MaxTokens,
		Temperature:       cfg.Vision.Temperature,
		RequestsPerSecond: cfg.Vision.RequestsPerSecond,
		Burst:             cfg.Vision.Burst,
		Logger:            logger,
	})

	orch := job.NewOrchestrator(client, store, job.Options{
		Policy: job.RetryPolicy{
			MaxAttempts:         cfg.Retry.MaxAttempts,
			InitialInterval:     cfg.Retry.InitialInterval,
			MaxInterval:         cfg.Retry.MaxInterval,
			Multiplier:          cfg.Retry.Multiplier,
			RandomizationFactor: cfg.Retry.RandomizationFactor,
		},
		Tracer: otel.Tracer("meal-vision/job"),
		Logger: logger,
	})

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		memory: notify.NewMemoryChannel(),
		bus:    notify.NewBusChannel(evbus.New()),
	}

	reporter := notify.NewReporter(
		notify.Fanout{a.memory, a.bus, notify.NewLogChannel(logger)},
		notify.Options{
			DeepLinkBase: cfg.Notify.DeepLinkBase,
			CanRetry: func(jobID string) bool {
				return a.manager != nil && a.manager.CanRetry(jobID)
			},
			Logger: logger,
		},
	)

	a.manager = job.NewManager(orch, job.ManagerOptions{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		Ledger:        store,
		Listeners:     []status.Listener{reporter.Listener()},
		Logger:        logger,
	})
	return a, nil
}

func (a *app) serve(ctx context.Context) error {
	srv, err := server.NewMealVisionServer(&server.Config{
		Transport: a.cfg.Server.Transport,
		Host:      a.cfg.Server.Host,
		Port:      a.cfg.Server.Port,
	}, server.Deps{
		Jobs:          a.manager,
		Meals:         a.store,
		History:       a.store,
		Notifications: a.memory,
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case err := <-errCh:
		a.logger.Error("server error", "err", err)
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		a.logger.Warn("error during shutdown", "err", err)
	}
	if err := a.manager.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("jobs still running at exit", "err", err)
	}
	return nil
}

// analyzeOnce runs one job per photo reference concurrently and prints each
// terminal notification and final state.
func (a *app) analyzeOnce(ctx context.Context, refs []string) error {
	if err := a.bus.Bus().Subscribe(notify.TopicComplete, func(n notify.Notification) {
		fmt.Printf("[%s] %s: %s\n", n.Tag, n.Title, n.Text)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	failed := make(chan string, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		ref := ref
		g.Go(func() error {
			id, err := a.manager.Submit(job.Input{PhotoRef: ref, CapturedAt: time.Now()})
			if err != nil {
				return fmt.Errorf("failed to submit %s: %w", ref, err)
			}
			res, err := a.manager.Wait(gctx, id)
			if err != nil {
				a.manager.Cancel(id)
				return err
			}
			view := status.ViewOf(res.Status)
			fmt.Printf("%s\t%s\t%s\tattempts=%d\n", id, ref, view.State, res.Attempts)
			if view.State != "success" {
				failed <- ref
			}
			return nil
		})
	}

	err := g.Wait()
	close(failed)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := a.manager.Shutdown(shutdownCtx); serr != nil {
		a.logger.Warn("jobs still running at exit", "err", serr)
	}

	if err != nil {
		return err
	}
	if n := len(failed); n > 0 {
		return fmt.Errorf("%d of %d photos were not logged", n, len(refs))
	}
	return nil
}
