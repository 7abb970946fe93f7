package query

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"context"
	"fmt"
	"io"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"
)

func init() {
	factory.RegisterSource("clickhouse", func(cfg *config.Config) (model.Source, error) {
		return NewSource(cfg.Reader.ClickHouse)
	})
}

// Source replays a table of observations in end time order.
type Source struct {
	conn  driver.Conn
	table string
	rows  driver.Rows
	read  uint64
}

// NewSource connects to ClickHouse. The query runs on the first call to Next.
func NewSource(cfg config.ClickHouseConfig) (*Source, error) {
	if err := CheckTable(cfg.Table); err != nil {
		return nil, err
	}
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	log.Infof("Connected to ClickHouse at %s:%d, reading table %s", cfg.Host, cfg.Port, cfg.Table)
	return &Source{conn: conn, table: cfg.Table}, nil
}

// Next returns the next row as a record, or io.EOF after the last row.
func (s *Source) Next(ctx context.Context) (model.FlowRecord, error) {
	if s.rows == nil {
		query := fmt.Sprintf("SELECT %s FROM %s ORDER BY EndTime, StartTime", Columns, s.table)
		rows, err := s.conn.Query(ctx, query)
		if err != nil {
			return model.FlowRecord{}, fmt.Errorf("failed to execute query: %w", err)
		}
		s.rows = rows
	}

	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return model.FlowRecord{}, fmt.Errorf("failed to read rows: %w", err)
		}
		return model.FlowRecord{}, io.EOF
	}

	var r Row
	err := s.rows.Scan(&r.StartTime, &r.EndTime, &r.L3Proto, &r.L4Proto, &r.SrcIP, &r.DstIP,
		&r.SrcPort, &r.DstPort, &r.Packets, &r.Bytes, &r.PacketsRev, &r.BytesRev)
	if err != nil {
		return model.FlowRecord{}, fmt.Errorf("failed to scan row %d: %w", s.read+1, err)
	}
	s.read++

	rec, err := r.Record()
	if err != nil {
		return model.FlowRecord{}, fmt.Errorf("row %d: %w: %v", s.read, model.ErrMalformedRecord, err)
	}
	return rec, nil
}

// Close releases the result set and the connection.
func (s *Source) Close() error {
	if s.rows != nil {
		s.rows.Close()
	}
	return s.conn.Close()
}
