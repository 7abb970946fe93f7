package probe

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

func init() {
	factory.RegisterSink("nats", func(cfg *config.Config) (model.Sink, error) {
		return NewPublisher(cfg.Writer.NATS)
	})
}

// Publisher is a model.Sink publishing every evicted flow to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	buf     []byte
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("flowprofile-sink"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	log.Infof("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Write serializes the flow and publishes it to the configured subject.
func (p *Publisher) Write(rec model.FlowRecord) error {
	p.buf = MarshalRecord(p.buf[:0], rec)
	if err := p.nc.Publish(p.subject, p.buf); err != nil {
		return fmt.Errorf("failed to publish flow to '%s': %w", p.subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	defer p.nc.Close()
	if err := p.nc.FlushTimeout(10 * time.Second); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	log.Info("NATS connection flushed and closed.")
	return nil
}
