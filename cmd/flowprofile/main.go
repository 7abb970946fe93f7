package main

import (
	"FlowSpectra/internal/config"
	_ "FlowSpectra/internal/conntrack" // Registers the conntrack reader
	"FlowSpectra/internal/engine/manager"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/logging"
	"FlowSpectra/internal/metrics"
	"FlowSpectra/internal/notification"
	_ "FlowSpectra/internal/probe" // Registers the nats reader and writer
	_ "FlowSpectra/internal/query" // Registers the clickhouse reader
	"FlowSpectra/internal/snapshot"
	"FlowSpectra/internal/status"
	_ "FlowSpectra/internal/writer" // Registers the clickhouse writer
	_ "FlowSpectra/pkg/flowcsv"     // Registers the csv reader and writer
	_ "FlowSpectra/pkg/pcap"        // Registers the pcap reader
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

type options struct {
	configPath string
	output     string
	compress   string
	active     float64
	inactive   float64
	memory     int
	reader     string
	input      string
	writer     string
	lenient    bool
}

func main() {
	run := logging.NewRunInfo()

	opts := options{}
	flag.StringVar(&opts.configPath, "config", "configs/config.yaml", "path to the YAML configuration")
	flag.StringVar(&opts.output, "o", "", "output path of the csv writer")
	flag.StringVar(&opts.compress, "z", "", "compress the csv output: gzip or zstd")
	flag.Float64Var(&opts.active, "active", 0, "active timeout in seconds")
	flag.Float64Var(&opts.inactive, "inactive", 0, "inactive timeout in seconds")
	flag.IntVar(&opts.memory, "mem", 0, "flow cache memory budget in MiB")
	flag.StringVar(&opts.reader, "reader", "", "reader type: "+strings.Join(factory.Sources(), ", "))
	flag.StringVar(&opts.input, "input", "", "input path of the csv or pcap reader")
	flag.StringVar(&opts.writer, "writer", "", "writer type: "+strings.Join(factory.Sinks(), ", "))
	flag.BoolVar(&opts.lenient, "lenient", false, "skip malformed records instead of failing")
	flag.Parse()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowprofile: %v\n", err)
		os.Exit(1)
	}

	logFile, err := logging.Setup(log.StandardLogger(), cfg.Log, run)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowprofile: %v\n", err)
		os.Exit(1)
	}
	code := execute(cfg, run)
	logFile.Close()
	os.Exit(code)
}

// loadConfig reads the configuration file and lets explicitly set flags
// override it. A missing file is only an error when -config was given.
func loadConfig(opts options) (*config.Config, error) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		if set["config"] || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}

	if set["o"] {
		cfg.Output = opts.output
	}
	if set["z"] {
		cfg.Compress = opts.compress
	}
	if set["active"] {
		cfg.ActiveTimeout = opts.active
	}
	if set["inactive"] {
		cfg.InactiveTimeout = opts.inactive
	}
	if set["mem"] {
		cfg.MemoryMiB = opts.memory
	}
	if set["reader"] {
		cfg.Reader.Type = opts.reader
	}
	if set["input"] {
		cfg.Reader.Path = opts.input
	}
	if set["writer"] {
		cfg.Writer.Type = opts.writer
	}
	if set["lenient"] {
		strict := !opts.lenient
		cfg.Strict = &strict
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// execute performs one profiling run and returns the process exit code.
func execute(cfg *config.Config, run logging.RunInfo) int {
	log.Infof("Starting flowprofile (run %s)...", run.StartedAt.Format(logging.TimeFormat))

	source, err := factory.NewSource(cfg)
	if err != nil {
		log.WithField("boundary", "source").Errorf("Failed to open reader: %v", err)
		return 1
	}
	sink, err := factory.NewSink(cfg)
	if err != nil {
		source.Close()
		log.WithField("boundary", "sink").Errorf("Failed to open writer: %v", err)
		return 1
	}
	log.Infof("Reading from %s, writing to %s.", cfg.Reader.Type, cfg.Writer.Type)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		source.Close()
		sink.Close()
		log.Errorf("Failed to create metrics: %v", err)
		return 1
	}

	mgr, err := manager.NewManager(cfg, source, sink, manager.WithRecorder(m))
	if err != nil {
		source.Close()
		sink.Close()
		log.Errorf("Failed to create manager: %v", err)
		return 1
	}

	srv, err := status.Start(cfg.Status, reg, func() any { return mgr.Progress() })
	if err != nil {
		source.Close()
		sink.Close()
		log.Errorf("Failed to start status server: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	summary, runErr := mgr.Run(ctx)
	stop()

	srv.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	srv.Shutdown(shutdownCtx)
	cancel()

	if cfg.Log.Dir != "" {
		if path, err := snapshot.NewWriter().Write(run.Dir(cfg.Log.Dir), summary); err != nil {
			log.Warnf("Failed to write run summary: %v", err)
		} else {
			log.Infof("Run summary written to %s", path)
		}
	}
	notify(cfg.Notify, summary, runErr)

	var (
		srcErr  *manager.SourceError
		sinkErr *manager.SinkError
	)
	switch {
	case errors.As(runErr, &sinkErr):
		if errors.As(runErr, &srcErr) {
			log.WithField("boundary", "source").Errorf("Run failed: %v", srcErr)
		}
		log.WithField("boundary", "sink").Errorf("Run failed: %v", sinkErr)
		return 1
	case errors.As(runErr, &srcErr):
		log.WithField("boundary", "source").Errorf("Run failed: %v", srcErr)
		return 1
	case runErr != nil:
		log.Errorf("Run failed: %v", runErr)
		return 1
	case summary.Interrupted:
		log.Warn("Interrupted; output holds every flow read before the interrupt.")
	}
	log.Info("Shutdown complete.")
	return 0
}

func notify(cfg config.NotifyConfig, summary manager.Summary, runErr error) {
	if cfg.SMTP.Host == "" {
		return
	}
	host, _ := os.Hostname()
	subject, body, ok := notification.RunReport(host, summary, runErr)
	if !ok {
		return
	}
	if err := notification.NewEmailNotifier(cfg.SMTP).Send(subject, body); err != nil {
		log.Warnf("Failed to send run report: %v", err)
		return
	}
	log.Infof("Run report sent to %s", cfg.SMTP.To)
}
