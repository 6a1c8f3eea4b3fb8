package cdr

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CallRecord is one SLA session's call detail record.
type CallRecord struct {
	ID           int64      `json:"id"`
	SessionID    string     `json:"session_id"`
	Extension    string     `json:"extension"`
	CallerName   string     `json:"caller_name"`
	CallerNumber string     `json:"caller_number"`
	Station      string     `json:"station"`
	DialedNumber string     `json:"dialed_number"`
	StartTime    time.Time  `json:"start_time"`
	AnswerTime   *time.Time `json:"answer_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Disposition  string     `json:"disposition"`
}

// Repository stores call records.
type Repository interface {
	Create(ctx context.Context, rec *CallRecord) error
	SetAnswered(ctx context.Context, sessionID, station string, at time.Time) error
	SetDialed(ctx context.Context, sessionID, number string) error
	Finalize(ctx context.Context, sessionID, disposition string, at time.Time) error
	List(ctx context.Context, limit int) ([]*CallRecord, error)
	CountByDisposition(ctx context.Context) (map[string]int64, error)
}

// repo implements Repository over SQLite.
type repo struct {
	db *DB
}

// NewRepository creates a call record repository.
func NewRepository(db *DB) Repository {
	return &repo{db: db}
}

func (r *repo) Create(ctx context.Context, rec *CallRecord) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_records (session_id, extension, caller_name,
		 caller_number, station, dialed_number, start_time, disposition)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Extension, rec.CallerName, rec.CallerNumber,
		rec.Station, rec.DialedNumber, rec.StartTime, rec.Disposition,
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

func (r *repo) SetAnswered(ctx context.Context, sessionID, station string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE call_records SET station = ?, answer_time = ? WHERE session_id = ?`,
		station, at, sessionID,
	)
	if err != nil {
		return fmt.Errorf("updating answered call record: %w", err)
	}
	return nil
}

func (r *repo) SetDialed(ctx context.Context, sessionID, number string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE call_records SET dialed_number = ? WHERE session_id = ?`,
		number, sessionID,
	)
	if err != nil {
		return fmt.Errorf("updating dialed call record: %w", err)
	}
	return nil
}

func (r *repo) Finalize(ctx context.Context, sessionID, disposition string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE call_records SET disposition = ?, end_time = ? WHERE session_id = ?`,
		disposition, at, sessionID,
	)
	if err != nil {
		return fmt.Errorf("finalizing call record: %w", err)
	}
	return nil
}

func (r *repo) List(ctx context.Context, limit int) ([]*CallRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, extension, caller_name, caller_number,
		 station, dialed_number, start_time, answer_time, end_time, disposition
		 FROM call_records ORDER BY start_time DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing call records: %w", err)
	}
	defer rows.Close()

	var records []*CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *repo) CountByDisposition(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT disposition, COUNT(*) FROM call_records GROUP BY disposition`,
	)
	if err != nil {
		return nil, fmt.Errorf("counting call records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var disposition string
		var count int64
		if err := rows.Scan(&disposition, &count); err != nil {
			return nil, fmt.Errorf("scanning call record count: %w", err)
		}
		counts[disposition] = count
	}
	return counts, rows.Err()
}

func scanRecord(rows *sql.Rows) (*CallRecord, error) {
	var rec CallRecord
	var answerTime, endTime sql.NullTime
	err := rows.Scan(
		&rec.ID, &rec.SessionID, &rec.Extension, &rec.CallerName,
		&rec.CallerNumber, &rec.Station, &rec.DialedNumber, &rec.StartTime,
		&answerTime, &endTime, &rec.Disposition,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning call record: %w", err)
	}
	if answerTime.Valid {
		rec.AnswerTime = &answerTime.Time
	}
	if endTime.Valid {
		rec.EndTime = &endTime.Time
	}
	return &rec, nil
}
