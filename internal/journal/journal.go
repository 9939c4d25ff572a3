package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultLimit is the number of entries Recent returns when limit <= 0.
const DefaultLimit = 20

// timeLayout is fixed width so received_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("delivery not found")

const selectColumns = `SELECT id, received_at, request_id, stage, kind, events, forwarded, status, duration_ms
FROM deliveries`

// Entry is the outcome of one inbound webhook. It never holds bodies,
// headers or secrets.
type Entry struct {
	ID         string        `json:"id"`
	ReceivedAt time.Time     `json:"received_at"`
	RequestID  string        `json:"request_id,omitempty"`
	Stage      string        `json:"stage"`
	Kind       string        `json:"kind,omitempty"`
	Events     int           `json:"events"`
	Forwarded  int           `json:"forwarded"`
	Status     int           `json:"status"`
	Duration   time.Duration `json:"duration"`
}

// Journal stores delivery outcomes in the deliveries table.
type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record inserts e and returns its id. A zero ReceivedAt is set to now.
func (j *Journal) Record(ctx context.Context, e Entry) (string, error) {
	if e.Stage == "" {
		return "", fmt.Errorf("stage is empty")
	}

	id := uuid.NewString()
	receivedAt := e.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	var kind, requestID any
	if e.Kind != "" {
		kind = e.Kind
	}
	if e.RequestID != "" {
		requestID = e.RequestID
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO deliveries(
  id, received_at, request_id, stage, kind, events, forwarded, status, duration_ms
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, receivedAt.UTC().Format(timeLayout), requestID, e.Stage, kind,
		e.Events, e.Forwarded, e.Status, e.Duration.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("record delivery: %w", err)
	}
	return id, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := j.db.QueryContext(ctx, selectColumns+`
ORDER BY received_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return out, nil
}

// Get returns the entry with the given id.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	row := j.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e           Entry
		receivedAtS string
		requestID   sql.NullString
		kind        sql.NullString
		durationMS  int64
	)
	if err := row.Scan(&e.ID, &receivedAtS, &requestID, &e.Stage, &kind,
		&e.Events, &e.Forwarded, &e.Status, &durationMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan delivery: %w", err)
	}
	if t, err := time.Parse(timeLayout, receivedAtS); err == nil {
		e.ReceivedAt = t
	}
	if requestID.Valid {
		e.RequestID = requestID.String
	}
	if kind.Valid {
		e.Kind = kind.String
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	return e, nil
}

// Prune deletes entries received before cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM deliveries WHERE received_at < ?;`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return n, nil
}
