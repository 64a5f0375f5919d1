package builder

import (
	"context"
	"database/sql"
	"time"

	"canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

// LoadLogTable is the append-only table recording successful rebuilds
const LoadLogTable = "LoadLog"

const createLoadLog = `CREATE TABLE IF NOT EXISTS LoadLog (
	table_name varchar(255) NOT NULL,
	time_refreshed datetime NOT NULL,
	num_rows bigint NOT NULL
)`

const insertLoadLog = "INSERT INTO LoadLog (table_name, time_refreshed, num_rows) VALUES (?, ?, ?)"

// mysqlDatetime is the DATETIME literal layout
const mysqlDatetime = "2006-01-02 15:04:05"

// LoadLogEntry is one row of the load log
type LoadLogEntry struct {
	Table         string `json:"table" yaml:"table"`
	TimeRefreshed string `json:"time_refreshed" yaml:"time_refreshed"`
	NumRows       int64  `json:"num_rows" yaml:"num_rows"`
}

// LoadLog reads and appends load log rows
type LoadLog struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewLoadLog binds the load log to a connection whose default schema is
// the auxiliary schema.
func NewLoadLog(db *sql.DB, logger *logging.Logger) *LoadLog {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &LoadLog{db: db, logger: logger}
}

// Ensure creates the load log table if it is missing
func (l *LoadLog) Ensure(ctx context.Context) error {
	startTime := time.Now()
	_, err := l.db.ExecContext(ctx, createLoadLog)
	l.logger.LogSQLExecution(createLoadLog, time.Since(startTime), 0, err)
	if err != nil {
		return errors.NewDatabaseError("failed to create load log", LoadLogTable, err).AsFatal()
	}
	return nil
}

// Append records a successful rebuild of table at the given UTC instant
func (l *LoadLog) Append(ctx context.Context, table string, refreshed time.Time, rows int64) error {
	startTime := time.Now()
	_, err := l.db.ExecContext(ctx, insertLoadLog, table, refreshed.UTC().Format(mysqlDatetime), rows)
	l.logger.LogSQLExecution(insertLoadLog, time.Since(startTime), 1, err)
	if err != nil {
		return errors.NewDatabaseError("failed to append load log entry", table, err)
	}
	return nil
}

// Latest returns the most recent entry for each table, in table order
func (l *LoadLog) Latest(ctx context.Context) ([]LoadLogEntry, error) {
	query := `
		SELECT l.table_name, CAST(l.time_refreshed AS CHAR), l.num_rows
		FROM LoadLog l
		JOIN (
			SELECT table_name, MAX(time_refreshed) AS latest
			FROM LoadLog
			GROUP BY table_name
		) m ON m.table_name = l.table_name AND m.latest = l.time_refreshed
		ORDER BY l.table_name`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to read load log", LoadLogTable, err)
	}
	defer rows.Close()

	var entries []LoadLogEntry
	for rows.Next() {
		var e LoadLogEntry
		if err := rows.Scan(&e.Table, &e.TimeRefreshed, &e.NumRows); err != nil {
			return nil, errors.NewDatabaseError("failed to scan load log entry", LoadLogTable, err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("error iterating load log", LoadLogTable, err)
	}

	return entries, nil
}

// CountSince counts entries for table refreshed at or after since
func (l *LoadLog) CountSince(ctx context.Context, table string, since time.Time) (int, error) {
	query := "SELECT COUNT(*) FROM LoadLog WHERE table_name = ? AND time_refreshed >= ?"

	var count int
	err := l.db.QueryRowContext(ctx, query, table, since.UTC().Format(mysqlDatetime)).Scan(&count)
	if err != nil {
		return 0, errors.NewDatabaseError("failed to count load log entries", table, err)
	}
	return count, nil
}
