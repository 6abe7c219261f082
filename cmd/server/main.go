package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/printdeck/server/internal/bus"
	"github.com/printdeck/server/internal/config"
	"github.com/printdeck/server/internal/logtail"
	"github.com/printdeck/server/internal/machine"
	"github.com/printdeck/server/internal/mock"
	"github.com/printdeck/server/internal/push"
	"github.com/printdeck/server/internal/relay"
	"github.com/printdeck/server/internal/telemetry"
	"github.com/printdeck/server/internal/timelapse"
	"github.com/printdeck/server/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Drive the server with simulated machine data")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	if cfg.Logging.File != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
		})
	}

	if cfg.Server.AuthToken == "" {
		token, err := config.GenerateToken()
		if err != nil {
			log.Fatalf("Failed to generate auth token: %v", err)
		}
		cfg.Server.AuthToken = token
		log.Printf("No auth token configured, generated one: %s", token)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New()
	status := machine.NewStatusTracker()
	recorder := timelapse.NewRecorder(cfg.Timelapse, b)

	var source telemetry.Source
	if *mockMode || cfg.Telemetry.Source == "simulated" {
		source = telemetry.NewSimulatedSource()
	} else {
		source = telemetry.HostSource{}
	}
	sampler := telemetry.NewSampler(source, cfg.Telemetry.PollInterval.Std(), cfg.Telemetry.HistorySize, status.Snapshot)
	go sampler.Run(ctx)

	tailer := logtail.NewTailer(cfg.DeviceLog.Path, cfg.DeviceLog.PollInterval.Std())
	if cfg.DeviceLog.Path != "" {
		go tailer.Run(ctx)
	}

	rel := relay.New(cfg.Messages.Broker, cfg.Messages.Topic, cfg.Messages.ClientID)
	if err := rel.Start(); err != nil {
		log.Printf("Message relay unavailable: %v", err)
	}
	defer rel.Stop()

	if *mockMode {
		log.Println("Starting in mock mode (simulated machine)")
		sim := mock.NewSimulator(status, tailer, rel, recorder, b)
		sim.Start(ctx)
	}

	registry := push.NewRegistry()
	producers := push.Producers{
		Telemetry: sampler,
		Log:       tailer,
		Messages:  rel,
		Recorder:  recorder,
	}
	server := ws.NewServer(cfg, b, registry, producers, recorder, status)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.Routes(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		registry.CloseAll()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Server listening on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
}
