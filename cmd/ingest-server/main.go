package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"telemetry-ingest/internal/api"
	"telemetry-ingest/internal/app"
	"telemetry-ingest/internal/config"
	"telemetry-ingest/internal/decoder"
	cangrpc "telemetry-ingest/internal/grpc"
	"telemetry-ingest/internal/metrics"
)

func main() {
	// Command line flags
	flags := pflag.NewFlagSet("ingest-server", pflag.ExitOnError)
	envFile := flags.String("env", ".env", "Path to .env configuration file")
	apiPort := flags.Int("api-port", 0, "HTTP API port (overrides API_PORT)")
	grpcPort := flags.Int("grpc-port", 0, "gRPC port (overrides GRPC_PORT)")
	flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if flags.Changed("api-port") {
		cfg.APIPort = *apiPort
	}
	if flags.Changed("grpc-port") {
		cfg.GRPCPort = *grpcPort
	}
	// The server stores points; it never uploads frames onward
	sinks := cfg.Sinks[:0:0]
	for _, s := range cfg.Sinks {
		if s != config.SinkGRPC {
			sinks = append(sinks, s)
		}
	}
	cfg.Sinks = sinks
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logCloser, err := app.SetupLogging(cfg.LogFile, cfg.LogMaxSizeMB)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	log.Printf("Starting Telemetry Ingest Server...")
	log.Printf("HTTP Server Port: %d", cfg.APIPort)
	log.Printf("gRPC Server Port: %d", cfg.GRPCPort)
	log.Printf("Storage sinks: %v", cfg.Sinks)

	m := metrics.New()
	metricsSrv, err := app.ServeMetrics(cfg.MetricsAddr, m)
	if err != nil {
		log.Fatalf("Failed to start metrics endpoint: %v", err)
	}

	table, err := app.LoadTable(cfg.DBCFile)
	if err != nil {
		log.Fatalf("Failed to load signal table: %v", err)
	}

	var failures decoder.FailureRecorder
	var failLog *decoder.FailureLog
	if cfg.FailLogPath != "" {
		failLog = decoder.OpenFailureLog(cfg.FailLogPath, 50, 5)
		failures = failLog
	}

	decCfg, err := cfg.DecoderConfig()
	if err != nil {
		log.Fatalf("Invalid decoder configuration: %v", err)
	}
	dec := decoder.New(decCfg, table, m, failures)

	storage, err := app.OpenStorage(context.Background(), cfg, m)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	storage.Start()

	ingest := cangrpc.NewIngestService(dec, storage.Points, storage.FrameSink(), m)

	// Create and start API server
	server, err := api.NewServer(api.ServerConfig{
		Port:     cfg.APIPort,
		GRPCPort: cfg.GRPCPort,
		Token:    cfg.APIToken,
	}, dec, storage.Points, ingest, storage.Checks)
	if err != nil {
		log.Fatalf("Failed to create API server: %v", err)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	reporterCtx, stopReporter := context.WithCancel(context.Background())
	m.StartReporter(reporterCtx, cfg.StatsInterval)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("Ingest Server started successfully")
	log.Printf("HTTP API available at: http://localhost:%d/", cfg.APIPort)
	log.Printf("gRPC API available at: localhost:%d", cfg.GRPCPort)
	log.Println("Press Ctrl+C to stop")

	// Wait for termination signal
	<-sigChan
	log.Println("Shutting down ingest server...")
	stopReporter()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	if err := storage.Close(); err != nil {
		log.Printf("Error flushing storage: %v", err)
	}
	if failLog != nil {
		failLog.Close()
	}
	if metricsSrv != nil {
		metricsSrv.Shutdown(ctx)
	}

	log.Printf("Frames ingested over gRPC: %d", ingest.Total())
	m.LogFinal()
	log.Println("Ingest server stopped")
}
