// Package query reads flow records back out of ClickHouse.
package query

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/model"
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Columns is the column list shared by the observation and flow tables.
const Columns = "StartTime, EndTime, L3Proto, L4Proto, SrcIP, DstIP, SrcPort, DstPort, Packets, Bytes, PacketsRev, BytesRev"

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    StartTime   DateTime64(3),
    EndTime     DateTime64(3),
    L3Proto     UInt8,
    L4Proto     UInt8,
    SrcIP       String,
    DstIP       String,
    SrcPort     UInt16,
    DstPort     UInt16,
    Packets     UInt64,
    Bytes       UInt64,
    PacketsRev  UInt64,
    BytesRev    UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(StartTime)
ORDER BY (L4Proto, StartTime);
`

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CheckTable rejects table names that cannot be used unquoted in a statement.
func CheckTable(name string) error {
	if !tableName.MatchString(name) {
		return fmt.Errorf("invalid clickhouse table name %q", name)
	}
	return nil
}

// Connect opens a ClickHouse connection and checks that the server answers.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// CreateTable creates a flow table with the shared schema if it is missing.
func CreateTable(ctx context.Context, conn driver.Conn, table string) error {
	if err := CheckTable(table); err != nil {
		return err
	}
	if err := conn.Exec(ctx, fmt.Sprintf(createTableStatement, table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// Row is one table row in scan order.
type Row struct {
	StartTime  time.Time
	EndTime    time.Time
	L3Proto    uint8
	L4Proto    uint8
	SrcIP      string
	DstIP      string
	SrcPort    uint16
	DstPort    uint16
	Packets    uint64
	Bytes      uint64
	PacketsRev uint64
	BytesRev   uint64
}

// RowOf converts a record to a table row. Unknown addresses become empty strings.
func RowOf(rec model.FlowRecord) Row {
	row := Row{
		StartTime:  time.UnixMilli(rec.StartTime).UTC(),
		EndTime:    time.UnixMilli(rec.EndTime).UTC(),
		L3Proto:    uint8(rec.L3Proto),
		L4Proto:    uint8(rec.L4Proto),
		SrcPort:    rec.SrcPort,
		DstPort:    rec.DstPort,
		Packets:    rec.Packets,
		Bytes:      rec.Bytes,
		PacketsRev: rec.PacketsRev,
		BytesRev:   rec.BytesRev,
	}
	if rec.SrcAddr.IsValid() {
		row.SrcIP = rec.SrcAddr.String()
	}
	if rec.DstAddr.IsValid() {
		row.DstIP = rec.DstAddr.String()
	}
	return row
}

// Values returns the row's columns in table order, ready for batch.Append.
func (r Row) Values() []any {
	return []any{
		r.StartTime, r.EndTime, r.L3Proto, r.L4Proto, r.SrcIP, r.DstIP,
		r.SrcPort, r.DstPort, r.Packets, r.Bytes, r.PacketsRev, r.BytesRev,
	}
}

// Record converts a table row back to a record.
func (r Row) Record() (model.FlowRecord, error) {
	rec := model.FlowRecord{
		StartTime:  r.StartTime.UnixMilli(),
		EndTime:    r.EndTime.UnixMilli(),
		L3Proto:    model.L3Protocol(r.L3Proto),
		L4Proto:    model.L4Protocol(r.L4Proto),
		SrcPort:    r.SrcPort,
		DstPort:    r.DstPort,
		Packets:    r.Packets,
		Bytes:      r.Bytes,
		PacketsRev: r.PacketsRev,
		BytesRev:   r.BytesRev,
	}
	var err error
	if r.SrcIP != "" {
		if rec.SrcAddr, err = netip.ParseAddr(r.SrcIP); err != nil {
			return model.FlowRecord{}, fmt.Errorf("invalid SrcIP: %w", err)
		}
	}
	if r.DstIP != "" {
		if rec.DstAddr, err = netip.ParseAddr(r.DstIP); err != nil {
			return model.FlowRecord{}, fmt.Errorf("invalid DstIP: %w", err)
		}
	}
	return rec, nil
}
