package reconcile

import (
	"context"

	"github.com/payrelay/payrelay/infra/logger"
	"github.com/payrelay/payrelay/infra/opensearch"
)

// AuditSink receives a copy of every stored audit entry for indexing in an
// external search backend.
type AuditSink interface {
	IndexAudit(ctx context.Context, entry *AuditEntry) error
}

// AuditedStore decorates a Store so every audit entry written through it is
// also fanned out to a search sink. The database insert stays authoritative:
// a sink failure is logged and never surfaces to the caller, and nothing is
// indexed for an entry the database rejected.
type AuditedStore struct {
	Store
	sink AuditSink
}

// NewAuditedStore wraps a store with an audit search sink
func NewAuditedStore(store Store, sink AuditSink) *AuditedStore {
	return &AuditedStore{Store: store, sink: sink}
}

func (s *AuditedStore) InsertAudit(ctx context.Context, entry *AuditEntry) error {
	if err := s.Store.InsertAudit(ctx, entry); err != nil {
		return err
	}

	if err := s.sink.IndexAudit(ctx, entry); err != nil {
		logger.Warn("Failed to index audit entry", logger.LogContext{
			Gateway:   entry.Gateway,
			PaymentID: entry.PaymentRef,
			Fields:    map[string]any{"kind": entry.Kind, "error": err.Error()},
		})
	}
	return nil
}

// SearchAuditSink indexes audit entries into the per-gateway OpenSearch audit
// indices.
type SearchAuditSink struct {
	audit *opensearch.Logger
}

// NewSearchAuditSink creates an OpenSearch-backed audit sink
func NewSearchAuditSink(audit *opensearch.Logger) *SearchAuditSink {
	return &SearchAuditSink{audit: audit}
}

func (s *SearchAuditSink) IndexAudit(ctx context.Context, entry *AuditEntry) error {
	return s.audit.LogAuditEvent(ctx, searchEvent(entry))
}

func searchEvent(entry *AuditEntry) opensearch.AuditEvent {
	return opensearch.AuditEvent{
		Timestamp:  entry.CreatedAt,
		EventID:    entry.ID,
		Gateway:    entry.Gateway,
		PaymentID:  entry.PaymentRef,
		Kind:       string(entry.Kind),
		FromStatus: string(entry.OldStatus),
		ToStatus:   string(entry.NewStatus),
		Detail:     entry.Note,
		Payload:    entry.RawPayload,
		HTTPStatus: entry.HTTPStatus,
		LatencyMs:  entry.LatencyMs,
	}
}
