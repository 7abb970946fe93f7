package factory

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/model"
	"fmt"
	"sort"
	"sync"
)

// SourceFactory creates a record source from the run configuration.
type SourceFactory func(cfg *config.Config) (model.Source, error)

// SinkFactory creates a flow sink from the run configuration.
type SinkFactory func(cfg *config.Config) (model.Sink, error)

var (
	mu      sync.RWMutex
	sources = make(map[string]SourceFactory)
	sinks   = make(map[string]SinkFactory)
)

// RegisterSource registers a reader type with its factory function.
func RegisterSource(name string, factory SourceFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := sources[name]; exists {
		panic(fmt.Sprintf("source type '%s' already registered", name))
	}
	sources[name] = factory
}

// RegisterSink registers a writer type with its factory function.
func RegisterSink(name string, factory SinkFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := sinks[name]; exists {
		panic(fmt.Sprintf("sink type '%s' already registered", name))
	}
	sinks[name] = factory
}

// NewSource creates the source selected by cfg.Reader.Type.
func NewSource(cfg *config.Config) (model.Source, error) {
	mu.RLock()
	factory, ok := sources[cfg.Reader.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown reader type: '%s' (available: %v)", cfg.Reader.Type, Sources())
	}
	src, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating reader type '%s': %w", cfg.Reader.Type, err)
	}
	return src, nil
}

// NewSink creates the sink selected by cfg.Writer.Type.
func NewSink(cfg *config.Config) (model.Sink, error) {
	mu.RLock()
	factory, ok := sinks[cfg.Writer.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown writer type: '%s' (available: %v)", cfg.Writer.Type, Sinks())
	}
	sink, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating writer type '%s': %w", cfg.Writer.Type, err)
	}
	return sink, nil
}

// Sources lists the registered reader types.
func Sources() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sinks lists the registered writer types.
func Sinks() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(sinks))
	for name := range sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
