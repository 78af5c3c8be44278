package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/tally/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAppender struct {
	err     error
	entries []model.AuditEntry
}

func (f *fakeAppender) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func TestRecorder_Record(t *testing.T) {
	ctx := context.Background()

	t.Run("acknowledged write", func(t *testing.T) {
		rec := NewRecorder()
		app := &fakeAppender{}

		ok := rec.Record(ctx, app, model.AuditEntry{ID: "a1", LinkID: "l1", To: model.LinkProposed})

		assert.True(t, ok)
		require.Len(t, app.entries, 1)
		assert.Equal(t, "l1", app.entries[0].LinkID)
		assert.Equal(t, int64(1), rec.Written())
		assert.Zero(t, rec.Failures())
	})

	t.Run("failed write is surfaced not returned", func(t *testing.T) {
		var (
			gotEntry model.AuditEntry
			gotErr   error
		)
		writeErr := errors.New("disk full")
		rec := NewRecorder(func(entry model.AuditEntry, err error) {
			gotEntry = entry
			gotErr = err
		})

		ok := rec.Record(ctx, &fakeAppender{err: writeErr}, model.AuditEntry{ID: "a2", LinkID: "l2"})

		assert.False(t, ok)
		assert.Equal(t, int64(1), rec.Failures())
		assert.Zero(t, rec.Written())
		assert.Equal(t, "l2", gotEntry.LinkID)
		assert.ErrorIs(t, gotErr, writeErr)
	})

	t.Run("handlers registered later are notified", func(t *testing.T) {
		rec := NewRecorder()
		calls := 0
		rec.OnFailure(func(model.AuditEntry, error) { calls++ })

		rec.Record(ctx, &fakeAppender{err: errors.New("boom")}, model.AuditEntry{})
		rec.Record(ctx, &fakeAppender{err: errors.New("boom")}, model.AuditEntry{})

		assert.Equal(t, 2, calls)
		assert.Equal(t, int64(2), rec.Failures())
	})
}
