package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lokalert/apkdist/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	records []audit.Record
	err     error
}

func (s *fakeSink) Append(_ context.Context, rec audit.Record) error {
	if s.err != nil {
		return s.err
	}

	s.records = append(s.records, rec)

	return nil
}

func TestBestEffort(t *testing.T) {
	t.Parallel()

	rec := audit.Record{
		Actor:     "user-42",
		Action:    audit.ActionComplete,
		SubjectID: "tok",
		Timestamp: time.Now(),
	}

	t.Run("appends to the sink", func(t *testing.T) {
		t.Parallel()

		sink := &fakeSink{}
		audit.NewBestEffort(sink).Record(context.Background(), rec)

		require.Len(t, sink.records, 1)
		assert.Equal(t, rec, sink.records[0])
	})

	t.Run("drops failed appends and reports them to the hook", func(t *testing.T) {
		t.Parallel()

		appendErr := errors.New("table locked")
		sink := &fakeSink{err: appendErr}

		var dropped []audit.Record

		wrapper := audit.NewBestEffort(sink, audit.WithErrorHook(func(r audit.Record, err error) {
			assert.ErrorIs(t, err, appendErr)
			dropped = append(dropped, r)
		}))

		wrapper.Record(context.Background(), rec)

		require.Len(t, dropped, 1)
		assert.Equal(t, rec, dropped[0])
	})

	t.Run("nil sink discards silently", func(t *testing.T) {
		t.Parallel()

		audit.NewBestEffort(nil).Record(context.Background(), rec)
	})
}
