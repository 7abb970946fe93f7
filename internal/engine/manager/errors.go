package manager

import "fmt"

// SourceError reports that the record source could not continue.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source failed: %v", e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// SinkError reports that the sink could not accept a flow. Lost is the number
// of aggregated flows that never reached the sink because of it.
type SinkError struct {
	Err  error
	Lost int
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink failed (%d flows lost): %v", e.Lost, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
