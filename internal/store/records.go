package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RequestStatus enumerates terminal states for a RequestRecord.
type RequestStatus string

const (
	RequestStatusOK        RequestStatus = "ok"
	RequestStatusErr       RequestStatus = "err"
	RequestStatusTimeout   RequestStatus = "timeout"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// RequestRecord is an append-only audit row for one dispatched call.
type RequestRecord struct {
	ID          string
	RequestRef  string // echoes the client's X-Request-ID, if any
	SessionID   string
	UserID      int64
	ToolName    string
	Priority    string
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	QueueWaitMs *int
	ExecMs      *int
	Status      RequestStatus
	ErrorCode   string
}

// AppendRequest inserts one completed request record. The table is
// append-only: the dispatcher fills the whole record (timings,
// terminal status, error code) and writes it exactly once at the end
// of the call.
func (s *Store) AppendRequest(ctx context.Context, r *RequestRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		var started, finished any
		if r.StartedAt != nil {
			started = formatTime(*r.StartedAt)
		}
		if r.FinishedAt != nil {
			finished = formatTime(*r.FinishedAt)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO request_records (id, request_ref, session_id, user_id, tool_name, priority, enqueued_at, started_at, finished_at, queue_wait_ms, exec_ms, status, error_code)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.RequestRef, r.SessionID, r.UserID, r.ToolName, r.Priority,
			formatTime(r.EnqueuedAt), started, finished, r.QueueWaitMs, r.ExecMs, r.Status, r.ErrorCode)
		return err
	})
}

// CountRequestsByRef returns how many request records match a given
// client-supplied X-Request-ID, used to verify the "exactly one record
// per accepted request" invariant.
func (s *Store) CountRequestsByRef(ctx context.Context, ref string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM request_records WHERE request_ref = ?`, ref)
	return n, err
}

// AppendError inserts an ErrorRecord, optionally tied to a request.
func (s *Store) AppendError(ctx context.Context, requestID *string, kind, message, stacktraceDigest string) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO error_records (id, request_id, kind, message, stacktrace_digest, ts)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), requestID, kind, message, stacktraceDigest, formatTime(now()))
		return err
	})
}

// LogEntry mirrors the LogEntry entity.
type LogEntry struct {
	ID         string
	Level      string
	Category   string
	Message    string
	FieldsJSON string
	TS         time.Time
}

// AppendLog persists a structured log line to the store (in addition
// to the rotated on-disk log file written by the observability layer).
func (s *Store) AppendLog(ctx context.Context, level, category, message, fieldsJSON string) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO log_entries (id, level, category, message, fields_json, ts)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), level, category, message, fieldsJSON, formatTime(now()))
		return err
	})
}

// CountLogsByCategoryLevel is a small helper used by tests and the
// admin stats endpoint.
func (s *Store) CountLogsByCategoryLevel(ctx context.Context, category, level string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM log_entries WHERE category = ? AND level = ?`, category, level)
	return n, err
}

// SweepExpired deletes LogEntry and RequestRecord rows older than
// horizon (relative to now), plus sessions whose refresh window has
// fully expired, in a single transaction, matching the retention-sweep
// contract. It returns the number of rows removed from each table.
// Running it twice in a row with no new writes between calls is a
// no-op the second time.
func (s *Store) SweepExpired(ctx context.Context, now time.Time, horizon time.Duration) (logsDeleted, requestsDeleted, sessionsDeleted int64, err error) {
	cutoff := formatTime(now.Add(-horizon))
	txErr := s.withWrite(ctx, func(tx *sqlxTx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM log_entries WHERE ts < ?`, cutoff)
		if err != nil {
			return err
		}
		logsDeleted, err = res.RowsAffected()
		if err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `DELETE FROM request_records WHERE enqueued_at < ?`, cutoff)
		if err != nil {
			return err
		}
		requestsDeleted, err = res.RowsAffected()
		if err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE refresh_expires_at < ?`, formatTime(now))
		if err != nil {
			return err
		}
		sessionsDeleted, err = res.RowsAffected()
		return err
	})
	if txErr != nil {
		return 0, 0, 0, txErr
	}
	return logsDeleted, requestsDeleted, sessionsDeleted, nil
}

// Compact runs SQLite's VACUUM outside of a transaction, reclaiming
// space freed by SweepExpired.
func (s *Store) Compact(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return err
}

// Stats holds a point-in-time snapshot for the admin stats endpoint.
type Stats struct {
	UserCount       int
	SessionCount    int
	HubConfigCount  int
	RequestCount    int
	ErrorCount      int
	LogCount        int
	RequestsByState map[string]int
}

// GetStats gathers aggregate counts across the core tables.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	queries := []struct {
		dst   *int
		query string
	}{
		{&st.UserCount, `SELECT COUNT(1) FROM users`},
		{&st.SessionCount, `SELECT COUNT(1) FROM sessions WHERE revoked = 0`},
		{&st.HubConfigCount, `SELECT COUNT(1) FROM hub_configs`},
		{&st.RequestCount, `SELECT COUNT(1) FROM request_records`},
		{&st.ErrorCount, `SELECT COUNT(1) FROM error_records`},
		{&st.LogCount, `SELECT COUNT(1) FROM log_entries`},
	}
	for _, q := range queries {
		if err := s.db.GetContext(ctx, q.dst, q.query); err != nil {
			return Stats{}, err
		}
	}

	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(1) FROM request_records GROUP BY status`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	st.RequestsByState = make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		st.RequestsByState[status] = count
	}
	return st, rows.Err()
}
