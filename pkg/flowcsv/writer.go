package flowcsv

import (
	"FlowSpectra/internal/model"
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// flushEvery bounds the rows held in memory. The buffer is large enough for
// that many rows of maximum width, so rows only leave it on an explicit flush.
const (
	flushEvery = 512
	bufferSize = 256 * 1024
)

// Writer is a model.Sink writing flow records as CSV rows in arrival order.
// A failed flush is reported as a *model.FlushError counting the buffered
// rows that were lost.
type Writer struct {
	csv           *csv.Writer
	buf           *bufio.Writer
	flushers      []func() error
	closers       []func() error
	withAddresses bool
	row           []string
	pending       int
}

// Create creates the output file, its parent directory, and the compressor
// selected by compress ("", "gzip" or "zstd"), then writes the header row.
func Create(path, compress string, withAddresses bool) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create csv output: %w", err)
	}

	var out io.Writer = file
	var flushers []func() error
	closers := []func() error{file.Close}
	switch compress {
	case "":
	case "gzip":
		gz := gzip.NewWriter(file)
		out = gz
		flushers = append(flushers, gz.Flush)
		closers = append([]func() error{gz.Close}, closers...)
	case "zstd":
		enc, err := zstd.NewWriter(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		out = enc
		flushers = append(flushers, enc.Flush)
		closers = append([]func() error{enc.Close}, closers...)
	default:
		file.Close()
		return nil, fmt.Errorf("unsupported compression %q", compress)
	}

	w, err := NewWriter(out, withAddresses)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, err
	}
	w.flushers = flushers
	w.closers = closers
	return w, nil
}

// NewWriter writes the header row to out and returns a writer for the rows.
func NewWriter(out io.Writer, withAddresses bool) (*Writer, error) {
	buf := bufio.NewWriterSize(out, bufferSize)
	w := &Writer{
		csv:           csv.NewWriter(buf),
		buf:           buf,
		withAddresses: withAddresses,
	}
	if err := w.csv.Write(header(withAddresses)); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	return w, nil
}

// Write appends one flow as a CSV row.
func (w *Writer) Write(rec model.FlowRecord) error {
	w.row = append(w.row[:0],
		strconv.FormatInt(rec.StartTime, 10),
		strconv.FormatInt(rec.EndTime, 10),
		strconv.FormatUint(uint64(rec.L3Proto), 10),
		strconv.FormatUint(uint64(rec.L4Proto), 10),
		strconv.FormatUint(uint64(rec.SrcPort), 10),
		strconv.FormatUint(uint64(rec.DstPort), 10),
		strconv.FormatUint(rec.Packets, 10),
		strconv.FormatUint(rec.Bytes, 10),
		strconv.FormatUint(rec.PacketsRev, 10),
		strconv.FormatUint(rec.BytesRev, 10),
	)
	if w.withAddresses {
		w.row = append(w.row, formatAddr(rec.SrcAddr), formatAddr(rec.DstAddr))
	}
	if err := w.csv.Write(w.row); err != nil {
		return w.lost(fmt.Errorf("failed to write csv row: %w", err), w.pending)
	}
	w.pending++
	if w.pending >= flushEvery {
		if err := w.flush(); err != nil {
			// The current row is reported by the caller.
			return w.lost(fmt.Errorf("failed to flush csv output: %w", err), w.pending-1)
		}
	}
	return nil
}

// flush pushes every buffered row through the compressor into the file.
func (w *Writer) flush() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	for _, f := range w.flushers {
		if err := f(); err != nil {
			return err
		}
	}
	w.pending = 0
	return nil
}

func (w *Writer) lost(err error, pending int) error {
	w.pending = 0
	return &model.FlushError{Err: err, Pending: pending}
}

func formatAddr(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

// Close flushes all buffered rows and closes the compressor and the file.
func (w *Writer) Close() error {
	var flushErr error
	if err := w.flush(); err != nil {
		flushErr = w.lost(fmt.Errorf("failed to close csv output: %w", err), w.pending)
	}
	var err error
	for _, c := range w.closers {
		if cerr := c(); cerr != nil && err == nil {
			err = cerr
		}
	}
	w.closers = nil
	if flushErr != nil {
		return flushErr
	}
	if err != nil {
		return fmt.Errorf("failed to close csv output: %w", err)
	}
	return nil
}
