package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/hilo/internal/db/driver"
)

// EventLog represents a persisted status event.
type EventLog struct {
	ID        int64
	RunID     string
	Seq       uint64
	EventType string
	Data      any // JSON marshaled to TEXT; decoded as json.RawMessage on read
	Source    string
	CreatedAt time.Time
}

// QueryEventsOptions specifies filters for querying events.
type QueryEventsOptions struct {
	RunID      string
	Since      *time.Time
	EventTypes []string
	AfterSeq   uint64
	Limit      int
}

// SaveEvents inserts events in a single transaction. Events already stored
// for the same run and sequence number are skipped.
func (d *DB) SaveEvents(ctx context.Context, events []*EventLog) error {
	if len(events) == 0 {
		return nil
	}

	return d.RunInTx(ctx, func(tx driver.Tx) error {
		for _, e := range events {
			var data *string
			if e.Data != nil {
				b, err := json.Marshal(e.Data)
				if err != nil {
					return fmt.Errorf("marshal event data: %w", err)
				}
				s := string(b)
				data = &s
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO event_log (run_id, seq, event_type, data, source, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (run_id, seq) DO NOTHING
			`, e.RunID, int64(e.Seq), e.EventType, data, e.Source, e.CreatedAt.UTC().Format(timeLayout))
			if err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
		}
		return nil
	})
}

// QueryEvents returns events matching opts in sequence order.
func (d *DB) QueryEvents(ctx context.Context, opts QueryEventsOptions) ([]EventLog, error) {
	var (
		where []string
		args  []any
	)
	if opts.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, opts.RunID)
	}
	if opts.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, opts.Since.UTC().Format(timeLayout))
	}
	if opts.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, int64(opts.AfterSeq))
	}
	if len(opts.EventTypes) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(opts.EventTypes)), ", ")
		where = append(where, "event_type IN ("+marks+")")
		for _, t := range opts.EventTypes {
			args = append(args, t)
		}
	}

	query := "SELECT id, run_id, seq, event_type, data, source, created_at FROM event_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY run_id, seq"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EventLog
	for rows.Next() {
		var (
			e         EventLog
			seq       int64
			data      *string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &seq, &e.EventType, &data, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Seq = uint64(seq)
		if data != nil {
			e.Data = json.RawMessage(*data)
		}
		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
