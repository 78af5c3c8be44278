// Package audit records the append-only trail of reconciliation link transitions.
package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// Appender persists a single audit entry. Stores hand the recorder an
// appender bound to the transaction of the transition being audited.
type Appender interface {
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
}

// FailureHandler is notified when an audit entry could not be written.
type FailureHandler func(entry model.AuditEntry, err error)

// Recorder appends audit entries without ever failing the surrounding
// transition. Write failures are logged, counted and handed to the
// registered failure handlers.
type Recorder struct {
	handlers []FailureHandler
	failures atomic.Int64
	written  atomic.Int64
	mu       sync.RWMutex
}

// NewRecorder creates a recorder with the given failure handlers.
func NewRecorder(handlers ...FailureHandler) *Recorder {
	return &Recorder{handlers: handlers}
}

// OnFailure registers an additional failure handler.
func (r *Recorder) OnFailure(handler FailureHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler)
}

// Record appends the entry and reports whether the write was acknowledged.
func (r *Recorder) Record(ctx context.Context, appender Appender, entry model.AuditEntry) bool {
	if err := appender.AppendAudit(ctx, entry); err != nil {
		r.failures.Add(1)
		common.LogError(ctx, err, "Audit entry was not recorded", common.Fields{
			"link_id":  entry.LinkID,
			"from":     entry.From.String(),
			"to":       entry.To.String(),
			"actor":    entry.Actor,
			"audit_id": entry.ID,
		})

		r.mu.RLock()
		handlers := append([]FailureHandler(nil), r.handlers...)
		r.mu.RUnlock()
		for _, h := range handlers {
			h(entry, err)
		}
		return false
	}

	r.written.Add(1)
	return true
}

// Failures returns the number of audit writes that failed since start.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}

// Written returns the number of acknowledged audit writes since start.
func (r *Recorder) Written() int64 {
	return r.written.Load()
}
