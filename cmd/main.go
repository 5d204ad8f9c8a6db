package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/translation-booking/internal/booking"
	"github.com/MimeLyc/translation-booking/internal/config"
	"github.com/MimeLyc/translation-booking/internal/httpapi"
	"github.com/MimeLyc/translation-booking/internal/notify"
	"github.com/MimeLyc/translation-booking/internal/persistence"
	"github.com/MimeLyc/translation-booking/internal/sweep"
	"github.com/MimeLyc/translation-booking/pkg/log"
)

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	// Runtime settings file overrides the env-level sweep schedule.
	settingsPath := config.RuntimeSettingsFilePath()
	if fileSettings, ferr := config.LoadRuntimeSettingsFile(settingsPath); ferr == nil {
		cfg, err = config.NewFromEnv(config.WithRuntimeSettings(fileSettings))
		if err != nil {
			log.Fatal("Failed to apply runtime settings: %v", err)
		}
	}

	store, err := persistence.NewSQLiteStoreWithTimeout(cfg.Storage.DBPath,
		time.Duration(cfg.Storage.OpTimeout)*time.Second)
	if err != nil {
		log.Fatal("Failed to open job store: %v", err)
	}
	defer store.Close()

	notifyTimeout := time.Duration(cfg.Notify.Timeout) * time.Second
	router := notify.NewRouter(
		notify.NewPushGateway(cfg.Notify.PushGatewayURL, notifyTimeout),
		notify.NewSMSGateway(cfg.Notify.SMSGatewayURL, cfg.Notify.SMSAPIKey, notifyTimeout),
	)

	dispatcher := notify.NewDispatcher(router, cfg.Notify.Workers)
	dispatcher.Start()
	defer dispatcher.Stop()

	engine := booking.NewEngine(store, router, dispatcher, booking.DefaultPolicy())

	cronRunner := cron.New()
	sweeper := sweep.New(store, engine, booking.DefaultPolicy(), cronRunner, cfg.Sweep.CronExpr)

	settingsStore, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		log.Fatal("Failed to initialize runtime settings store: %v", err)
	}

	server := httpapi.NewServer(engine,
		httpapi.WithSweeper(sweeper),
		httpapi.WithRuntimeSettingsStore(settingsStore),
		httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			return sweeper.Reschedule(next.SweepCronExpr)
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runWithComponents(ctx, cfg, sweeper, cronRunner, server); err != nil {
		log.Fatal("Server exited: %v", err)
	}
}

// runWithComponents wires the sweep schedule and the HTTP server
// together and blocks until the context is cancelled or the server
// fails.
func runWithComponents(ctx context.Context, cfg *config.Config,
	sched scheduler, cronRunner cronEngine, server httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	cronRunner.Start()
	defer func() {
		<-cronRunner.Stop().Done()
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", cfg.HTTP.Addr)
		errCh <- server.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
