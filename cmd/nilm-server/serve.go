package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/nilm-server/internal/cache"
	"github.com/sweeney/nilm-server/internal/nilm"
	"github.com/sweeney/nilm-server/internal/notify"
	"github.com/sweeney/nilm-server/internal/store"
	"github.com/sweeney/nilm-server/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring server",
	Long: `Starts the HTTP API, the WebSocket broadcast hub, the optional MQTT
publisher, and the hourly retention sweep. Runs until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	if err := st.Seed(nilm.SeedProfiles()); err != nil {
		return fmt.Errorf("seeding appliance catalogue: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub(log)
	defer hub.Close()
	notifiers := notify.Multi{hub}

	// The broker is optional: a dashboard-only deployment runs without one.
	if cfg.MQTT.Enabled {
		pub, err := notify.NewMQTTPublisher(notify.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.GetTopicPrefix(),
			Logger:      log,
		})
		if err != nil {
			log.Warn("mqtt disabled", slog.Any("error", err))
		} else {
			defer pub.Close()
			notifiers = append(notifiers, pub)
		}
	}

	var rc *cache.Cache
	if cfg.Redis.Enabled {
		rc, err = cache.New(ctx, cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis cache disabled", slog.Any("error", err))
			rc = nil
		} else {
			defer rc.Close()
		}
	}

	pipeline := nilm.NewPipeline(cfg.DetectionEngineConfig(), nilm.PipelineDeps{
		Profiles:   st.Profiles(),
		Events:     st.Events(),
		Samples:    st.Samples(),
		Detections: st.Detections(),
		States:     st.States(),
		Feedback:   st.Feedback(),
		Notifier:   notifiers,
		Logger:     log,
	})

	states, err := st.LoadStates()
	if err != nil {
		return fmt.Errorf("loading appliance states: %w", err)
	}
	pipeline.SeedStates(states)

	sweeper := store.NewSweeper(st, store.Retention{
		Readings:   cfg.GetReadingsRetention(),
		Events:     cfg.GetEventsRetention(),
		Detections: cfg.GetDetectionsRetention(),
	}, log)
	go sweeper.Run(ctx, cfg.GetSweepInterval())

	srv := web.New(cfg.GetAddr(), web.Deps{
		Pipeline:      pipeline,
		Store:         st,
		Cache:         rc,
		Hub:           hub,
		Logger:        log,
		APIKey:        cfg.Server.APIKey,
		RatePerMinute: cfg.GetRatePerMinute(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("server started",
		slog.String("addr", cfg.GetAddr()),
		slog.Bool("mqtt", cfg.MQTT.Enabled),
		slog.Bool("redis", rc != nil),
		slog.Int("known_states", len(states)))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
