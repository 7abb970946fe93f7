// Package writer stores evicted flows in ClickHouse.
package writer

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/query"
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"
)

func init() {
	factory.RegisterSink("clickhouse", func(cfg *config.Config) (model.Sink, error) {
		return NewClickHouseWriter(cfg.Writer.ClickHouse)
	})
}

// ClickHouseWriter is a model.Sink inserting flows in batches.
type ClickHouseWriter struct {
	conn      driver.Conn
	table     string
	batchSize int

	batch   driver.Batch
	pending int
	written uint64
}

// NewClickHouseWriter connects to ClickHouse and ensures the flow table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := query.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := query.CreateTable(context.Background(), conn, cfg.Table); err != nil {
		conn.Close()
		return nil, err
	}
	log.Infof("Successfully connected to ClickHouse and ensured table %s exists.", cfg.Table)

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10000
	}
	return &ClickHouseWriter{conn: conn, table: cfg.Table, batchSize: batchSize}, nil
}

// Write appends the flow to the current batch and sends the batch once full.
func (w *ClickHouseWriter) Write(rec model.FlowRecord) error {
	if w.batch == nil {
		batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO "+w.table)
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		w.batch = batch
	}
	if err := w.batch.Append(query.RowOf(rec).Values()...); err != nil {
		return fmt.Errorf("failed to append flow to batch: %w", err)
	}
	w.pending++
	if w.pending >= w.batchSize {
		return w.send()
	}
	return nil
}

func (w *ClickHouseWriter) send() error {
	if w.batch == nil || w.pending == 0 {
		return nil
	}
	if err := w.batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	w.written += uint64(w.pending)
	log.Debugf("Wrote %d flows to ClickHouse table %s", w.pending, w.table)
	w.batch, w.pending = nil, 0
	return nil
}

// Close sends the last partial batch and closes the connection.
func (w *ClickHouseWriter) Close() error {
	err := w.send()
	if err == nil {
		log.Infof("Wrote %d flows to ClickHouse table %s", w.written, w.table)
	}
	if cerr := w.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
