package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.bug.st/serial"

	"telemetry-ingest/internal/app"
	"telemetry-ingest/internal/batch"
	"telemetry-ingest/internal/can"
	"telemetry-ingest/internal/config"
	"telemetry-ingest/internal/decoder"
	"telemetry-ingest/internal/framing"
	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
	"telemetry-ingest/internal/pipeline"
)

func main() {
	// Command line flags; set flags override the .env file
	flags := pflag.NewFlagSet("telemetry-link", pflag.ExitOnError)
	envFile := flags.String("env", ".env", "Path to .env configuration file")
	port := flags.StringP("port", "p", "", "Serial port (overrides SERIAL_PORT)")
	baud := flags.IntP("baud", "b", 0, "Serial baud rate (overrides SERIAL_BAUD)")
	source := flags.String("source", "", "Byte source: serial or socketcan (overrides SOURCE)")
	format := flags.StringP("format", "f", "", "Frame format: uart24, hex30, tagged, filler21, nofiller21 (overrides FRAME_FORMAT)")
	dbcFile := flags.String("dbc", "", "DBC file (overrides DBC_FILE)")
	flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if flags.Changed("port") {
		cfg.SerialPort = *port
	}
	if flags.Changed("baud") {
		cfg.SerialBaud = *baud
	}
	if flags.Changed("source") {
		cfg.Source = *source
	}
	if flags.Changed("format") {
		cfg.FrameFormat = *format
	}
	if flags.Changed("dbc") {
		cfg.DBCFile = *dbcFile
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logCloser, err := app.SetupLogging(cfg.LogFile, cfg.LogMaxSizeMB)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	if err := run(cfg); err != nil {
		log.Printf("Telemetry link stopped with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log.Printf("Starting telemetry link...")
	log.Printf("Source: %s (%s@%d, %s)", cfg.Source, cfg.SerialPort, cfg.SerialBaud, cfg.CANInterface)
	log.Printf("Frame format: %s, sinks: %v", cfg.FrameFormat, cfg.Sinks)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	metricsSrv, err := app.ServeMetrics(cfg.MetricsAddr, m)
	if err != nil {
		return err
	}

	table, err := app.LoadTable(cfg.DBCFile)
	if err != nil {
		return err
	}

	var failures decoder.FailureRecorder
	var failLog *decoder.FailureLog
	if cfg.FailLogPath != "" {
		failLog = decoder.OpenFailureLog(cfg.FailLogPath, 50, 5)
		failures = failLog
		log.Printf("Failure log: %s", cfg.FailLogPath)
	}

	decCfg, err := cfg.DecoderConfig()
	if err != nil {
		return err
	}
	dec := decoder.New(decCfg, table, m, failures)

	storage, err := app.OpenStorage(ctx, cfg, m)
	if err != nil {
		return err
	}
	storage.Start()

	uploader, err := app.OpenUploader(cfg, m)
	if err != nil {
		storage.Close()
		return err
	}
	var frames batch.Submitter[*models.CanFrame]
	if uploader != nil {
		uploader.Start()
		frames = uploader
	}

	p := pipeline.New(dec, storage.Points, frames, m)
	if archive := storage.FrameSink(); archive != nil {
		iface := cfg.SerialPort
		if cfg.Source == config.SourceSocketCAN {
			iface = cfg.CANInterface
		}
		p.ArchiveFrames(archive, iface)
	}
	m.StartReporter(ctx, cfg.StatsInterval)

	log.Println("Telemetry link started successfully. Press Ctrl+C to stop.")
	runErr := readSource(ctx, cfg, p, m)
	stop()

	log.Println("Shutting down...")
	start := time.Now()
	var errs []error
	errs = append(errs, runErr)
	if uploader != nil {
		errs = append(errs, uploader.Close())
	}
	errs = append(errs, storage.Close())
	if failLog != nil {
		errs = append(errs, failLog.Close())
		if n := failLog.Dropped(); n > 0 {
			log.Printf("Warning: failure log dropped %d entries", n)
		}
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, metricsSrv.Shutdown(shutdownCtx))
		cancel()
	}
	log.Printf("Sinks drained in %v", time.Since(start).Round(time.Millisecond))
	m.LogFinal()

	return errors.Join(errs...)
}

// readSource runs the pipeline until the source ends or ctx is cancelled
func readSource(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, m *metrics.Metrics) error {
	switch cfg.Source {
	case config.SourceSocketCAN:
		reader, err := can.NewReader(cfg.CANInterface)
		if err != nil {
			return fmt.Errorf("failed to create CAN reader: %w", err)
		}
		defer reader.Close()

		if len(cfg.CANFilters) > 0 {
			if err := reader.SetFilter(cfg.CANFilters); err != nil {
				log.Printf("Warning: Failed to set filters: %v", err)
			} else {
				log.Printf("Applied CAN ID filters: %v", cfg.CANFilters)
			}
		}

		reader.Start(ctx)
		go func() {
			for {
				select {
				case err := <-reader.GetErrorChannel():
					log.Printf("CAN error: %v", err)
				case <-ctx.Done():
					return
				}
			}
		}()
		return p.RunCAN(ctx, reader.GetMessageChannel())

	default:
		format, err := cfg.Format()
		if err != nil {
			return err
		}

		mode := &serial.Mode{
			BaudRate: cfg.SerialBaud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(cfg.SerialPort, mode)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", cfg.SerialPort, err)
		}
		log.Printf("UART open on %s@%d", cfg.SerialPort, cfg.SerialBaud)

		// Closing the port unblocks the pending read
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
			case <-done:
			}
			port.Close()
		}()

		fr, err := framing.New(format, port, m)
		if err != nil {
			return err
		}
		return p.Run(ctx, fr)
	}
}
