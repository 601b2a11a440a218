package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Iron-Ham/maestro/internal/errors"
)

// SQLiteRepository is a SQLite-backed Repository. WAL mode allows concurrent
// readers; a single connection serializes writers, which SQLite requires
// anyway.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite creates or opens the SQLite database at the given path and
// runs schema initialization. Schema statements are idempotent so it is safe
// to call on every open.
func OpenSQLite(dbPath string) (*SQLiteRepository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			pipeline TEXT NOT NULL,
			phase_index INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			pending_request_id TEXT NOT NULL DEFAULT '',
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			lifetime_tokens INTEGER NOT NULL DEFAULT 0,
			unit_tokens INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS archives (
			session_id TEXT PRIMARY KEY,
			fields TEXT NOT NULL,
			phase_index INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			next_phase INTEGER NOT NULL,
			snapshot BLOB NOT NULL,
			lifetime_tokens INTEGER NOT NULL,
			reason TEXT NOT NULL,
			digest TEXT NOT NULL,
			consumed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_session_id ON checkpoints(session_id)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			phase INTEGER NOT NULL,
			summary TEXT NOT NULL,
			required_keys TEXT NOT NULL,
			schema TEXT,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			reminder_sent INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			payload TEXT,
			fulfilled_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// CreateSession persists a new session, failing if the id is taken.
func (r *SQLiteRepository) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		return errors.NewValidationError("session ID cannot be empty").WithField("id")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, subject, pipeline, phase_index, status, reason,
			pending_request_id, cancel_requested, lifetime_tokens, unit_tokens, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Subject, s.Pipeline, s.PhaseIndex, string(s.Status), s.Reason,
		s.PendingRequestID, boolToInt(s.CancelRequested), s.LifetimeTokens, s.UnitTokens,
		s.CreatedAt.UnixNano(), s.UpdatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewAlreadyExistsError("session", s.ID)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SaveSession persists the current state of an existing session.
func (r *SQLiteRepository) SaveSession(ctx context.Context, s *Session) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET subject = ?, pipeline = ?, phase_index = ?, status = ?, reason = ?,
			pending_request_id = ?, cancel_requested = ?, lifetime_tokens = ?, unit_tokens = ?, updated_at = ?
		 WHERE id = ?`,
		s.Subject, s.Pipeline, s.PhaseIndex, string(s.Status), s.Reason,
		s.PendingRequestID, boolToInt(s.CancelRequested), s.LifetimeTokens, s.UnitTokens,
		s.UpdatedAt.UnixNano(), s.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errors.ErrSessionNotFound
	}
	return nil
}

// LoadSession retrieves a session by id.
func (r *SQLiteRepository) LoadSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, subject, pipeline, phase_index, status, reason, pending_request_id,
			cancel_requested, lifetime_tokens, unit_tokens, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns all sessions, newest first.
func (r *SQLiteRepository) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, subject, pipeline, phase_index, status, reason, pending_request_id,
			cancel_requested, lifetime_tokens, unit_tokens, created_at, updated_at
		 FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var status string
	var cancelRequested int
	var createdAt, updatedAt int64

	err := row.Scan(&s.ID, &s.Subject, &s.Pipeline, &s.PhaseIndex, &status, &s.Reason,
		&s.PendingRequestID, &cancelRequested, &s.LifetimeTokens, &s.UnitTokens,
		&createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	s.Status = Status(status)
	s.CancelRequested = cancelRequested != 0
	s.CreatedAt = time.Unix(0, createdAt).UTC()
	s.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &s, nil
}

// SaveArchive persists an archive if the stored archive's phase index
// matches the expected value. The check-and-write runs in one transaction.
func (r *SQLiteRepository) SaveArchive(ctx context.Context, a *Archive, expectPhase int) error {
	fields, err := json.Marshal(a.Fields)
	if err != nil {
		return fmt.Errorf("marshal archive fields: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT phase_index FROM archives WHERE session_id = ?`, a.SessionID).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		if expectPhase != 0 {
			return errors.ErrArchiveStale
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO archives (session_id, fields, phase_index, updated_at) VALUES (?, ?, ?, ?)`,
			a.SessionID, string(fields), a.PhaseIndex, a.UpdatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert archive: %w", err)
		}
	case err != nil:
		return fmt.Errorf("query archive: %w", err)
	default:
		if current != expectPhase {
			return errors.ErrArchiveStale
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE archives SET fields = ?, phase_index = ?, updated_at = ? WHERE session_id = ?`,
			string(fields), a.PhaseIndex, a.UpdatedAt.UnixNano(), a.SessionID)
		if err != nil {
			return fmt.Errorf("update archive: %w", err)
		}
	}

	return tx.Commit()
}

// RestoreArchive overwrites the stored archive unconditionally.
func (r *SQLiteRepository) RestoreArchive(ctx context.Context, a *Archive) error {
	fields, err := json.Marshal(a.Fields)
	if err != nil {
		return fmt.Errorf("marshal archive fields: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO archives (session_id, fields, phase_index, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET fields = excluded.fields,
			phase_index = excluded.phase_index, updated_at = excluded.updated_at`,
		a.SessionID, string(fields), a.PhaseIndex, a.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("restore archive: %w", err)
	}
	return nil
}

// LoadArchive retrieves a session's archive.
func (r *SQLiteRepository) LoadArchive(ctx context.Context, sessionID string) (*Archive, error) {
	var a Archive
	var fields string
	var updatedAt int64

	err := r.db.QueryRowContext(ctx,
		`SELECT session_id, fields, phase_index, updated_at FROM archives WHERE session_id = ?`,
		sessionID).Scan(&a.SessionID, &fields, &a.PhaseIndex, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("query archive: %w", err)
	}

	if err := json.Unmarshal([]byte(fields), &a.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal archive fields: %w", err)
	}
	if a.Fields == nil {
		a.Fields = make(map[string]string)
	}
	a.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &a, nil
}

// SaveCheckpoint persists a checkpoint with its snapshot msgpack-encoded.
func (r *SQLiteRepository) SaveCheckpoint(ctx context.Context, cp *HandoverCheckpoint) error {
	snap, err := msgpack.Marshal(cp.Snapshot)
	if err != nil {
		return fmt.Errorf("encode checkpoint snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, session_id, next_phase, snapshot, lifetime_tokens, reason, digest, consumed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.SessionID, cp.NextPhase, snap, cp.LifetimeTokens, cp.Reason, cp.Digest,
		boolToInt(cp.Consumed), cp.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewAlreadyExistsError("checkpoint", cp.ID)
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves a checkpoint by id.
func (r *SQLiteRepository) LoadCheckpoint(ctx context.Context, id string) (*HandoverCheckpoint, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, session_id, next_phase, snapshot, lifetime_tokens, reason, digest, consumed, created_at
		 FROM checkpoints WHERE id = ?`, id)
	return scanCheckpoint(row)
}

func scanCheckpoint(row rowScanner) (*HandoverCheckpoint, error) {
	var cp HandoverCheckpoint
	var snap []byte
	var consumed int
	var createdAt int64

	err := row.Scan(&cp.ID, &cp.SessionID, &cp.NextPhase, &snap, &cp.LifetimeTokens,
		&cp.Reason, &cp.Digest, &consumed, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	if err := msgpack.Unmarshal(snap, &cp.Snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCheckpointCorrupted, err)
	}
	cp.Consumed = consumed != 0
	cp.CreatedAt = time.Unix(0, createdAt).UTC()
	return &cp, nil
}

// ConsumeCheckpoint flips the consumed flag exactly once via a conditional
// update.
func (r *SQLiteRepository) ConsumeCheckpoint(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE checkpoints SET consumed = 1 WHERE id = ? AND consumed = 0`, id)
	if err != nil {
		return fmt.Errorf("consume checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// No row updated: either already consumed or missing.
	var consumed int
	err = r.db.QueryRowContext(ctx, `SELECT consumed FROM checkpoints WHERE id = ?`, id).Scan(&consumed)
	if err == sql.ErrNoRows {
		return errors.ErrCheckpointNotFound
	}
	if err != nil {
		return fmt.Errorf("query checkpoint: %w", err)
	}
	return errors.ErrDuplicateResume
}

// LatestCheckpoint returns the most recent checkpoint for a session.
func (r *SQLiteRepository) LatestCheckpoint(ctx context.Context, sessionID string) (*HandoverCheckpoint, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, session_id, next_phase, snapshot, lifetime_tokens, reason, digest, consumed, created_at
		 FROM checkpoints WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)
	return scanCheckpoint(row)
}

// SaveRequest persists a human-loop request, inserting or replacing.
func (r *SQLiteRepository) SaveRequest(ctx context.Context, req *HumanLoopRequest) error {
	keys, err := json.Marshal(req.RequiredKeys)
	if err != nil {
		return fmt.Errorf("marshal required keys: %w", err)
	}

	var schema any
	if req.Schema != nil {
		b, err := json.Marshal(req.Schema)
		if err != nil {
			return fmt.Errorf("marshal schema: %w", err)
		}
		schema = string(b)
	}

	var payload any
	if req.Payload != nil {
		b, err := json.Marshal(req.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = string(b)
	}

	var fulfilledAt any
	if req.FulfilledAt != nil {
		fulfilledAt = req.FulfilledAt.UnixNano()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO requests (id, session_id, phase, summary, required_keys, schema,
			created_at, expires_at, reminder_sent, status, payload, fulfilled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET reminder_sent = excluded.reminder_sent,
			status = excluded.status, payload = excluded.payload, fulfilled_at = excluded.fulfilled_at`,
		req.ID, req.SessionID, req.Phase, req.Summary, string(keys), schema,
		req.CreatedAt.UnixNano(), req.ExpiresAt.UnixNano(), boolToInt(req.ReminderSent),
		string(req.Status), payload, fulfilledAt)
	if err != nil {
		return fmt.Errorf("save request: %w", err)
	}
	return nil
}

// LoadRequest retrieves a request by id.
func (r *SQLiteRepository) LoadRequest(ctx context.Context, id string) (*HumanLoopRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, session_id, phase, summary, required_keys, schema, created_at,
			expires_at, reminder_sent, status, payload, fulfilled_at
		 FROM requests WHERE id = ?`, id)
	return scanRequest(row)
}

// ListOpenRequests returns every request persisted as pending or reminded.
func (r *SQLiteRepository) ListOpenRequests(ctx context.Context) ([]*HumanLoopRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, phase, summary, required_keys, schema, created_at,
			expires_at, reminder_sent, status, payload, fulfilled_at
		 FROM requests WHERE status IN (?, ?) ORDER BY created_at`,
		string(RequestPending), string(RequestReminded))
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var open []*HumanLoopRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		open = append(open, req)
	}
	return open, rows.Err()
}

func scanRequest(row rowScanner) (*HumanLoopRequest, error) {
	var req HumanLoopRequest
	var keys string
	var schema, payload sql.NullString
	var reminderSent int
	var status string
	var createdAt, expiresAt int64
	var fulfilledAt sql.NullInt64

	err := row.Scan(&req.ID, &req.SessionID, &req.Phase, &req.Summary, &keys, &schema,
		&createdAt, &expiresAt, &reminderSent, &status, &payload, &fulfilledAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrRequestNotFound
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}

	if err := json.Unmarshal([]byte(keys), &req.RequiredKeys); err != nil {
		return nil, fmt.Errorf("unmarshal required keys: %w", err)
	}
	if schema.Valid {
		if err := json.Unmarshal([]byte(schema.String), &req.Schema); err != nil {
			return nil, fmt.Errorf("unmarshal schema: %w", err)
		}
	}
	if payload.Valid {
		if err := json.Unmarshal([]byte(payload.String), &req.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if fulfilledAt.Valid {
		t := time.Unix(0, fulfilledAt.Int64).UTC()
		req.FulfilledAt = &t
	}

	req.ReminderSent = reminderSent != 0
	req.Status = RequestStatus(status)
	req.CreatedAt = time.Unix(0, createdAt).UTC()
	req.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return &req, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a primary-key or unique
// constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
