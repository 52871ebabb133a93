package ch

import (
	"context"
	"crypto/tls"
	"fmt"

	"library/internal/storage"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// AuditLog stores lending lifecycle events in the lending_events table
type AuditLog struct {
	conn clickhouse.Conn
}

// NewAuditLog creates a new ClickHouse connection for the audit log
func NewAuditLog(host string, port int, database, user, password string, useTLS bool) (*AuditLog, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &AuditLog{conn: conn}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (a *AuditLog) Initialize(ctx context.Context) error {
	return nil
}

// AppendEvent inserts one audit record
func (a *AuditLog) AppendEvent(ctx context.Context, record storage.AuditRecord) error {
	err := a.conn.Exec(ctx, `INSERT INTO lending_events (id, occurred_at, event_type, patron_id, fine_id, message, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.OccurredAt, record.EventType, record.PatronID, record.FineID, record.Message, record.Payload)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// GetLastEvents returns the last N events
func (a *AuditLog) GetLastEvents(ctx context.Context, limit int) ([]storage.AuditRecord, error) {
	rows, err := a.conn.Query(ctx, `SELECT id, occurred_at, event_type, patron_id, fine_id, message, payload FROM lending_events ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get last events: %w", err)
	}
	defer rows.Close()

	var records []storage.AuditRecord
	for rows.Next() {
		var r storage.AuditRecord
		if err := rows.Scan(&r.ID, &r.OccurredAt, &r.EventType, &r.PatronID, &r.FineID, &r.Message, &r.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the database connection
func (a *AuditLog) Close() error {
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
