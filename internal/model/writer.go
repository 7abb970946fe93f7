package model

import "fmt"

// Sink persists finalized flow records in the order they are handed over.
// It is append-only and is never written to concurrently.
type Sink interface {
	// Write persists a single finalized flow.
	Write(record FlowRecord) error

	// Close flushes buffered output and releases the underlying resources.
	Close() error
}

// FlushError is returned by a buffering Sink when flushing fails. Pending is
// the number of flows the sink had accepted from earlier calls that never
// reached the output.
type FlushError struct {
	Err     error
	Pending int
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("%d buffered flows not flushed: %v", e.Pending, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}
