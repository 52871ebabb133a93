package memory

import (
	"context"
	"sort"
	"sync"

	"library/internal/storage"
)

// AuditLog is an in-memory storage.AuditLog used when no ClickHouse is configured
type AuditLog struct {
	mu      sync.RWMutex
	records []storage.AuditRecord
}

// NewAuditLog creates an empty in-memory audit log
func NewAuditLog() *AuditLog {
	return &AuditLog{records: make([]storage.AuditRecord, 0)}
}

// Initialize does nothing for the in-memory log
func (a *AuditLog) Initialize(ctx context.Context) error {
	return nil
}

// AppendEvent stores a record
func (a *AuditLog) AppendEvent(ctx context.Context, record storage.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records = append(a.records, record)
	return nil
}

// GetLastEvents returns the last N records, most recent first
func (a *AuditLog) GetLastEvents(ctx context.Context, limit int) ([]storage.AuditRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sorted := make([]storage.AuditRecord, len(a.records))
	copy(sorted, a.records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.After(sorted[j].OccurredAt)
	})

	if limit > len(sorted) {
		limit = len(sorted)
	}

	return sorted[:limit], nil
}

// Close does nothing for the in-memory log
func (a *AuditLog) Close() error {
	return nil
}
