package main

import (
	"FlowSpectra/internal/config"
	_ "FlowSpectra/internal/conntrack" // Registers the conntrack reader
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/probe"
	_ "FlowSpectra/pkg/flowcsv" // Registers the csv reader
	_ "FlowSpectra/pkg/pcap"    // Registers the pcap reader
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func main() {
	// --- Command-Line Flag Parsing ---
	mode := flag.String("mode", "pub", "Operating mode: 'pub' to publish observations, 'sub' to subscribe and print.")
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration.")
	reader := flag.String("reader", "", "Reader to publish from in pub mode (pcap, csv, conntrack).")
	input := flag.String("input", "", "Input path of the csv or pcap reader.")
	url := flag.String("url", "", "NATS server URL.")
	subject := flag.String("subject", "", "NATS subject carrying observations.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = config.Default()
	}
	if *reader != "" {
		cfg.Reader.Type = *reader
	}
	if *input != "" {
		cfg.Reader.Path = *input
	}
	if *url != "" {
		cfg.Reader.NATS.URL = *url
	}
	if *subject != "" {
		cfg.Reader.NATS.Subject = *subject
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Mode Dispatch ---
	switch *mode {
	case "pub":
		err = runProbe(ctx, cfg)
	case "sub":
		err = runSubscriber(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("flowprobe failed: %v", err)
	}
	log.Println("Shutdown complete.")
}

// runProbe reads observations from the configured reader and publishes each
// one to the observation subject consumed by the nats reader of flowprofile.
func runProbe(ctx context.Context, cfg *config.Config) error {
	if cfg.Reader.Type == "nats" {
		return errors.New("pub mode needs a reader other than nats")
	}
	source, err := factory.NewSource(cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	pub, err := probe.NewPublisher(cfg.Reader.NATS)
	if err != nil {
		return err
	}
	log.Printf("Publishing %s observations to '%s'...", cfg.Reader.Type, cfg.Reader.NATS.Subject)

	var published uint64
	for {
		rec, err := source.Next(ctx)
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			break
		}
		if err != nil {
			pub.Close()
			return fmt.Errorf("failed to read observation: %w", err)
		}
		if err := pub.Write(rec); err != nil {
			pub.Close()
			return err
		}
		published++
	}
	if err := pub.Close(); err != nil {
		return err
	}
	log.Printf("Published %d observations.", published)
	return nil
}

// runSubscriber prints every observation arriving on the subject.
func runSubscriber(ctx context.Context, cfg *config.Config) error {
	sub, err := probe.NewSubscriber(cfg.Reader.NATS)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		rec, err := sub.Next(ctx)
		switch {
		case errors.Is(err, io.EOF) || ctx.Err() != nil:
			return nil
		case err != nil:
			log.Printf("Error decoding observation: %v", err)
		default:
			fmt.Println(rec)
		}
	}
}
