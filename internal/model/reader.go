package model

import "context"

// Source yields flow observations lazily. Next returns io.EOF once the
// source is exhausted; live sources also return ctx.Err() when ctx is done.
type Source interface {
	Next(ctx context.Context) (FlowRecord, error)
	Close() error
}
