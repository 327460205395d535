// Package audit appends immutable records of session state changes.
package audit

import (
	"context"
	"time"

	"github.com/lokalert/apkdist/internal/logctx"
)

// Actions recorded by the session engine.
const (
	ActionInit           = "init"
	ActionComplete       = "complete"
	ActionCompleteFailed = "complete_failed"
	ActionCancel         = "cancel"
)

// Record is one immutable audit entry.
type Record struct {
	Actor     string
	Action    string
	SubjectID string
	Detail    string
	Timestamp time.Time
}

// Sink appends audit records to durable storage.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// BestEffort wraps a Sink so that audit failures are logged and dropped
// instead of propagated. Audit must never roll back or block the primary
// operation; this wrapper is the one place where that swallowing happens.
type BestEffort struct {
	sink    Sink
	onError func(Record, error)
}

// BestEffortOption configures a BestEffort wrapper.
type BestEffortOption func(*BestEffort)

// WithErrorHook registers a callback invoked whenever an append is dropped.
func WithErrorHook(fn func(Record, error)) BestEffortOption {
	return func(b *BestEffort) {
		b.onError = fn
	}
}

// NewBestEffort wraps the given sink. A nil sink yields a wrapper that
// silently discards records.
func NewBestEffort(sink Sink, opts ...BestEffortOption) *BestEffort {
	b := &BestEffort{sink: sink}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Record appends the record, logging and dropping any failure.
func (b *BestEffort) Record(ctx context.Context, rec Record) {
	if b == nil || b.sink == nil {
		return
	}

	if err := b.sink.Append(ctx, rec); err != nil {
		logctx.LoggerFromContext(ctx).Warn("dropping audit record",
			"action", rec.Action, "subject_id", rec.SubjectID, "err", err)

		if b.onError != nil {
			b.onError(rec, err)
		}
	}
}
