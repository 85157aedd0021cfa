package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"iotdrone-monitor/internal/modules/sensors/types"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/insert-sequenced-reading.sql
var insertSequencedReadingSQL string

//go:embed sql/prune.sql
var pruneSQL string

//go:embed sql/count.sql
var countSQL string

//go:embed sql/get-last.sql
var getLastSQL string

//go:embed sql/get-latest.sql
var getLatestSQL string

// DefaultCapacity is the number of readings kept in the window.
const DefaultCapacity = 20

// SensorRepository is the bounded window of recent readings.
type SensorRepository interface {
	// Insert stores r and prunes the window back to capacity in one
	// transaction. An empty r.ID gets the next arrival sequence number; a
	// non-empty ID is upserted.
	Insert(ctx context.Context, r types.Reading) (types.Reading, error)
	// Last returns up to n readings, oldest first.
	Last(ctx context.Context, n int) ([]types.Reading, error)
	// Latest returns the most recently inserted reading.
	Latest(ctx context.Context) (types.Reading, bool, error)
	Count(ctx context.Context) (int, error)
	Capacity() int
}

// WriteError reports a failed persisted write. The window is unchanged.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write: %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ErrInvariantViolation matches any *InvariantViolationError.
var ErrInvariantViolation = errors.New("store invariant violated")

// InvariantViolationError means the window was still above capacity after
// pruning. It signals a bug, not a recoverable condition.
type InvariantViolationError struct {
	Count    int
	Capacity int
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("%v: %d rows after prune, capacity %d", ErrInvariantViolation, e.Count, e.Capacity)
}

func (e *InvariantViolationError) Is(target error) bool {
	return target == ErrInvariantViolation
}

type repositoryImpl struct {
	db       *sql.DB
	capacity int
	logger   *slog.Logger
}

func NewRepository(db *sql.DB, capacity int, logger *slog.Logger) (SensorRepository, error) {
	if db == nil {
		return nil, errors.New("repository: nil db")
	}
	if capacity < 1 {
		return nil, fmt.Errorf("repository: capacity must be >= 1, got %d", capacity)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &repositoryImpl{db: db, capacity: capacity, logger: logger}, nil
}

func (r *repositoryImpl) Capacity() int {
	return r.capacity
}

func (r *repositoryImpl) Insert(ctx context.Context, reading types.Reading) (types.Reading, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Reading{}, &WriteError{Op: "begin", Err: err}
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error("rollback insert", "error", rbErr)
		}
	}()

	var (
		seq int64
		id  string
	)
	if reading.ID == "" {
		err = tx.QueryRowContext(ctx, insertSequencedReadingSQL,
			reading.Timestamp, reading.Temperature, reading.Humidity,
		).Scan(&seq, &id)
	} else {
		err = tx.QueryRowContext(ctx, insertReadingSQL,
			reading.ID, reading.Timestamp, reading.Temperature, reading.Humidity,
		).Scan(&seq, &id)
	}
	if err != nil {
		return types.Reading{}, &WriteError{Op: "insert", Err: err}
	}

	res, err := tx.ExecContext(ctx, pruneSQL, r.capacity)
	if err != nil {
		return types.Reading{}, &WriteError{Op: "prune", Err: err}
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return types.Reading{}, &WriteError{Op: "prune", Err: err}
	}

	var count int
	if err := tx.QueryRowContext(ctx, countSQL).Scan(&count); err != nil {
		return types.Reading{}, &WriteError{Op: "count", Err: err}
	}
	if count > r.capacity {
		return types.Reading{}, &InvariantViolationError{Count: count, Capacity: r.capacity}
	}

	if err := tx.Commit(); err != nil {
		return types.Reading{}, &WriteError{Op: "commit", Err: err}
	}

	r.logger.Debug("reading stored",
		"id", id,
		"seq", seq,
		"pruned", pruned,
		"count", count,
	)

	reading.ID = id
	return reading, nil
}

func (r *repositoryImpl) Last(ctx context.Context, n int) ([]types.Reading, error) {
	if n <= 0 {
		return []types.Reading{}, nil
	}
	rows, err := r.db.QueryContext(ctx, getLastSQL, n)
	if err != nil {
		return nil, fmt.Errorf("query last %d: %w", n, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("close last readings rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

func (r *repositoryImpl) Latest(ctx context.Context) (types.Reading, bool, error) {
	var rec types.Reading
	err := r.db.QueryRowContext(ctx, getLatestSQL).Scan(&rec.ID, &rec.Timestamp, &rec.Temperature, &rec.Humidity)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Reading{}, false, nil
	}
	if err != nil {
		return types.Reading{}, false, fmt.Errorf("query latest: %w", err)
	}
	return rec, true, nil
}

func (r *repositoryImpl) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}

func scanReadings(rows *sql.Rows) ([]types.Reading, error) {
	out := []types.Reading{}
	for rows.Next() {
		var rec types.Reading
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Temperature, &rec.Humidity); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
