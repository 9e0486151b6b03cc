package persistence

import (
	"context"
	"database/sql"
	"time"
)

// EventRow is the on-disk shape of one event_log row. internal/bus is the
// only caller; it owns the richer typed Event this row serializes.
type EventRow struct {
	EventID        string
	EventType      string
	EventClassType string
	Timestamp      time.Time
	Urgency        string
	SourceKind     string
	SourceID       *string
	Payload        []byte
}

// AppendEvent durably writes row. internal/bus.Publish calls this before
// fan-out so a crash between persistence and dispatch never leaves an event
// delivered-but-unrecorded or recorded-but-silently-lost.
func (s *Store) AppendEvent(ctx context.Context, row EventRow) error {
	return RetryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO event_log (event_id, event_type, event_class_type, timestamp, urgency, source_kind, source_id, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);
		`, row.EventID, row.EventType, row.EventClassType, row.Timestamp.UnixMilli(), row.Urgency, row.SourceKind, nullableStr(row.SourceID), row.Payload)
		return err
	})
}

const defaultReplayBatchSize = 500

// ReplayEvents calls fn for every event with since <= timestamp <= until, in
// ascending timestamp order (then event_id for determinism), stopping early
// if fn returns an error. Rows are paged batchSize at a time using a
// (timestamp, event_id) keyset cursor rather than one unbounded query, so a
// long replay window never holds more than one page's worth of rows live at
// once. batchSize <= 0 falls back to defaultReplayBatchSize.
func (s *Store) ReplayEvents(ctx context.Context, since, until time.Time, batchSize int, fn func(EventRow) error) error {
	if batchSize <= 0 {
		batchSize = defaultReplayBatchSize
	}

	cursorTS := since.UnixMilli()
	cursorID := ""
	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT event_id, event_type, event_class_type, timestamp, urgency, source_kind, source_id, payload
			FROM event_log
			WHERE timestamp >= ? AND timestamp <= ? AND (timestamp > ? OR (timestamp = ? AND event_id > ?))
			ORDER BY timestamp ASC, event_id ASC
			LIMIT ?;
		`, since.UnixMilli(), until.UnixMilli(), cursorTS, cursorTS, cursorID, batchSize)
		if err != nil {
			return err
		}

		var page []EventRow
		for rows.Next() {
			row, err := scanEventRow(rows)
			if err != nil {
				rows.Close()
				return err
			}
			page = append(page, row)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, row := range page {
			if err := fn(row); err != nil {
				return err
			}
		}
		if len(page) < batchSize {
			return nil
		}

		last := page[len(page)-1]
		cursorTS = last.Timestamp.UnixMilli()
		cursorID = last.EventID
	}
}

func scanEventRow(rows *sql.Rows) (EventRow, error) {
	var (
		row        EventRow
		millis     int64
		sourceID   sql.NullString
	)
	if err := rows.Scan(&row.EventID, &row.EventType, &row.EventClassType, &millis, &row.Urgency, &row.SourceKind, &sourceID, &row.Payload); err != nil {
		return EventRow{}, err
	}
	row.Timestamp = time.UnixMilli(millis)
	if sourceID.Valid {
		v := sourceID.String
		row.SourceID = &v
	}
	return row, nil
}

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
