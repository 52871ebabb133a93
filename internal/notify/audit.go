package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"library/internal/models"
	"library/internal/storage"
)

// auditPayload is the JSON document stored alongside each audit record
type auditPayload struct {
	PatronName string `json:"patron_name"`
	CanBorrow  bool   `json:"can_borrow"`
	LoanID     string `json:"loan_id,omitempty"`
	Amount     string `json:"amount,omitempty"`
	PaidAmount string `json:"paid_amount,omitempty"`
	Paid       bool   `json:"paid,omitempty"`
}

// AuditObserver appends every event to an audit log
type AuditObserver struct {
	log storage.AuditLog
}

// NewAuditObserver creates an observer writing to log
func NewAuditObserver(log storage.AuditLog) *AuditObserver {
	return &AuditObserver{log: log}
}

// Handle persists the event
func (o *AuditObserver) Handle(ctx context.Context, event models.Event) error {
	record, err := AuditRecordFromEvent(event)
	if err != nil {
		return err
	}
	if err := o.log.AppendEvent(ctx, record); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// AuditRecordFromEvent builds a storage record with a fresh time-ordered ID
func AuditRecordFromEvent(event models.Event) (storage.AuditRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return storage.AuditRecord{}, fmt.Errorf("failed to generate audit id: %w", err)
	}

	payload := auditPayload{
		PatronName: event.Patron.Name,
		CanBorrow:  event.Patron.CanBorrow,
	}
	record := storage.AuditRecord{
		ID:         id.String(),
		OccurredAt: event.OccurredAt,
		EventType:  string(event.Type),
		PatronID:   event.Patron.ID,
		Message:    event.Message,
	}
	if event.Fine != nil {
		record.FineID = event.Fine.ID
		payload.LoanID = event.Fine.LoanID
		payload.Amount = event.Fine.Amount.StringFixed(2)
		payload.PaidAmount = event.Fine.PaidAmount.StringFixed(2)
		payload.Paid = event.Fine.Paid
	}

	data, err := jsoniter.ConfigFastest.Marshal(payload)
	if err != nil {
		return storage.AuditRecord{}, fmt.Errorf("failed to encode audit payload: %w", err)
	}
	record.Payload = string(data)

	return record, nil
}
