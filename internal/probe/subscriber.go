package probe

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

func init() {
	factory.RegisterSource("nats", func(cfg *config.Config) (model.Source, error) {
		return NewSubscriber(cfg.Reader.NATS)
	})
}

// Subscriber is a model.Source receiving observations from a NATS subject.
type Subscriber struct {
	nc          *nats.Conn
	sub         *nats.Subscription
	subject     string
	msgs        chan *nats.Msg
	idleTimeout time.Duration
}

// NewSubscriber connects to NATS and subscribes to the configured subject.
// Messages are buffered up to BufferSize; beyond that NATS drops them and
// reports a slow consumer.
func NewSubscriber(cfg config.NATSConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("flowprofile-source"),
		nats.ErrorHandler(logAsyncError),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	log.Infof("Connected to NATS server at %s", cfg.URL)

	s := &Subscriber{
		nc:          nc,
		subject:     cfg.Subject,
		msgs:        make(chan *nats.Msg, cfg.BufferSize),
		idleTimeout: cfg.IdleTimeout,
	}
	s.sub, err = nc.ChanSubscribe(cfg.Subject, s.msgs)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to '%s': %w", cfg.Subject, err)
	}
	log.Infof("Subscribed to '%s'. Waiting for messages...", cfg.Subject)
	return s, nil
}

// logAsyncError logs errors reported outside of a call. Connection level
// errors, such as permission violations, come without a subscription.
func logAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub == nil {
		log.Warnf("NATS error: %v", err)
		return
	}
	log.Warnf("NATS error on subject '%s': %v", sub.Subject, err)
}

// Next blocks until a message arrives. It returns io.EOF once no message has
// arrived for the idle timeout. An undecodable message yields an error
// wrapping model.ErrMalformedRecord.
func (s *Subscriber) Next(ctx context.Context) (model.FlowRecord, error) {
	var idle <-chan time.Time
	if s.idleTimeout > 0 {
		timer := time.NewTimer(s.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	select {
	case <-ctx.Done():
		return model.FlowRecord{}, ctx.Err()
	case <-idle:
		log.Infof("No message on '%s' for %s, ending input", s.subject, s.idleTimeout)
		return model.FlowRecord{}, io.EOF
	case msg := <-s.msgs:
		rec, err := UnmarshalRecord(msg.Data)
		if err != nil {
			return model.FlowRecord{}, fmt.Errorf("%w: %v", model.ErrMalformedRecord, err)
		}
		return rec, nil
	}
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() error {
	var err error
	if s.sub != nil {
		err = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Info("NATS connection closed.")
	}
	return err
}
