package flowcsv

import (
	"FlowSpectra/internal/model"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Reader is a model.Source reading flow records from CSV.
type Reader struct {
	csv     *csv.Reader
	closers []func() error
	index   map[string]int
	line    int
}

// Open opens a CSV file, decompressing it according to its extension.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv input: %w", err)
	}

	var in io.Reader = file
	closers := []func() error{file.Close}
	switch compressionOf(path) {
	case "gzip":
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		in = gz
		closers = append([]func() error{gz.Close}, closers...)
	case "zstd":
		dec, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		in = dec
		closers = append([]func() error{func() error { dec.Close(); return nil }}, closers...)
	}

	r, err := NewReader(in)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, err
	}
	r.closers = closers
	return r, nil
}

// NewReader reads the header row from in and returns a reader for the rows.
// The address columns are used when present.
func NewReader(in io.Reader) (*Reader, error) {
	cr := csv.NewReader(in)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv input has no header row")
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	index := make(map[string]int, len(head))
	for i, name := range head {
		index[strings.ToUpper(strings.TrimSpace(name))] = i
	}
	for _, name := range Columns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("csv header is missing column %s", name)
		}
	}
	_, hasSrc := index["SRC_IP"]
	_, hasDst := index["DST_IP"]
	if hasSrc != hasDst {
		return nil, errors.New("csv header must carry both SRC_IP and DST_IP or neither")
	}
	cr.FieldsPerRecord = len(head)

	return &Reader{csv: cr, index: index, line: 1}, nil
}

// Next returns the next record, or io.EOF at the end of the input.
func (r *Reader) Next(ctx context.Context) (model.FlowRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.FlowRecord{}, err
	}
	row, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.FlowRecord{}, io.EOF
		}
		return model.FlowRecord{}, fmt.Errorf("failed to read csv row: %w", err)
	}
	r.line++

	rec, err := r.parse(row)
	if err != nil {
		return model.FlowRecord{}, fmt.Errorf("csv line %d: %w", r.line, err)
	}
	return rec, nil
}

func (r *Reader) parse(row []string) (model.FlowRecord, error) {
	var (
		rec model.FlowRecord
		err error
	)
	field := func(name string) string {
		return strings.TrimSpace(row[r.index[name]])
	}
	parseUint := func(name string, bits int) uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		v, err = strconv.ParseUint(field(name), 10, bits)
		if err != nil {
			err = fmt.Errorf("invalid %s: %w", name, err)
		}
		return v
	}
	parseInt := func(name string) int64 {
		if err != nil {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(field(name), 10, 64)
		if err != nil {
			err = fmt.Errorf("invalid %s: %w", name, err)
		}
		return v
	}

	rec.StartTime = parseInt("START_TIME")
	rec.EndTime = parseInt("END_TIME")
	rec.L3Proto = model.L3Protocol(parseUint("L3_PROTO", 8))
	rec.L4Proto = model.L4Protocol(parseUint("L4_PROTO", 8))
	rec.SrcPort = uint16(parseUint("SRC_PORT", 16))
	rec.DstPort = uint16(parseUint("DST_PORT", 16))
	rec.Packets = parseUint("PACKETS", 64)
	rec.Bytes = parseUint("BYTES", 64)
	rec.PacketsRev = parseUint("PACKETS_REV", 64)
	rec.BytesRev = parseUint("BYTES_REV", 64)
	if err != nil {
		return rec, err
	}

	if _, ok := r.index["SRC_IP"]; ok {
		if rec.SrcAddr, err = parseAddr(field("SRC_IP")); err != nil {
			return rec, fmt.Errorf("invalid SRC_IP: %w", err)
		}
		if rec.DstAddr, err = parseAddr(field("DST_IP")); err != nil {
			return rec, fmt.Errorf("invalid DST_IP: %w", err)
		}
	}
	return rec, nil
}

func parseAddr(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, nil
	}
	return netip.ParseAddr(s)
}

// Close releases the input file and any decompressor.
func (r *Reader) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}
