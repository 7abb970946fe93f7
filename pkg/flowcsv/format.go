// Package flowcsv reads and writes flow records in the fixed-column CSV
// format, optionally gzip or zstd compressed.
package flowcsv

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"path/filepath"
	"strings"
)

// Column names of the base format, in order.
var Columns = []string{
	"START_TIME", "END_TIME", "L3_PROTO", "L4_PROTO", "SRC_PORT", "DST_PORT",
	"PACKETS", "BYTES", "PACKETS_REV", "BYTES_REV",
}

// AddressColumns extend the base format for address-aware output.
var AddressColumns = []string{"SRC_IP", "DST_IP"}

func init() {
	factory.RegisterSource("csv", func(cfg *config.Config) (model.Source, error) {
		return Open(cfg.Reader.Path)
	})
	factory.RegisterSink("csv", func(cfg *config.Config) (model.Sink, error) {
		return Create(cfg.Output, cfg.Compress, cfg.Writer.WithAddresses)
	})
}

// compressionOf guesses the compression of a file from its extension.
func compressionOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return "gzip"
	case ".zst", ".zstd":
		return "zstd"
	}
	return ""
}

func header(withAddresses bool) []string {
	h := append([]string(nil), Columns...)
	if withAddresses {
		h = append(h, AddressColumns...)
	}
	return h
}
