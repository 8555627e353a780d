// Package store provides durable, transactional persistence for call
// sessions, participants and the append-only event log, using SQLite with
// WAL mode for concurrent access and ACID guarantees.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hivechat/callbridge/pkg/call"
	"github.com/hivechat/callbridge/pkg/callerr"
)

// Config configures the store
type Config struct {
	// DBPath is the path to the SQLite database file
	DBPath string
	// EnableWAL enables write-ahead logging for concurrent access
	EnableWAL bool
	// ConnectionPool sets the maximum open connections
	ConnectionPool int
}

// Store is the SQLite-backed call session store
type Store struct {
	config Config
	db     *sql.DB
}

// Schema version for migrations
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS call_sessions (
	call_id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'ringing',
	initiator_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	ended_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_sessions_room ON call_sessions(room_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON call_sessions(status, created_at);

CREATE TABLE IF NOT EXISTS call_participants (
	call_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'invited',
	audio_enabled INTEGER NOT NULL DEFAULT 1,
	video_enabled INTEGER NOT NULL DEFAULT 1,
	joined_at INTEGER,
	left_at INTEGER,
	PRIMARY KEY (call_id, user_id)
);

CREATE TABLE IF NOT EXISTS call_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id TEXT NOT NULL,
	user_id TEXT,
	event_type TEXT NOT NULL,
	metadata TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_call ON call_events(call_id, created_at);

CREATE TABLE IF NOT EXISTS store_meta (key TEXT PRIMARY KEY, value TEXT);
`

// New opens (creating if needed) the call session store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionPool == 0 {
		config.ConnectionPool = 10
	}

	// Pragmas go in the DSN so every pooled connection gets them. A
	// connection without busy_timeout fails concurrent writes with
	// SQLITE_BUSY instead of waiting for the lock.
	journalMode := "DELETE"
	if config.EnableWAL {
		journalMode = "WAL"
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)", config.DBPath, journalMode)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreTx, "open database", err)
	}

	s := &Store{config: config, db: db}
	if err := s.initDB(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initDB initializes the database schema
func (s *Store) initDB(ctx context.Context) error {
	s.db.SetMaxOpenConns(s.config.ConnectionPool)
	s.db.SetMaxIdleConns(s.config.ConnectionPool / 2)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return callerr.Store(callerr.CodeStoreTx, "create schema", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO store_meta (key, value) VALUES ('schema_version', ?);",
		fmt.Sprintf("%d", schemaVersion)); err != nil {
		return callerr.Store(callerr.CodeStoreTx, "store schema version", err)
	}

	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return callerr.Store(callerr.CodeStoreQuery, "ping database", err)
	}
	return nil
}

// CreateSession inserts the session, its initiator participant and the
// initiated event in one transaction. The commit happens before any
// real-time notification fires: a reconnecting client that polls session
// status must never see "not found" for a call it was just rung for.
func (s *Store) CreateSession(ctx context.Context, sess *call.Session, initiator *call.Participant, ev *call.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return callerr.Store(callerr.CodeStoreTx, "begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO call_sessions (call_id, room_id, kind, status, initiator_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.CallID, sess.RoomID, string(sess.Kind), string(sess.Status), sess.InitiatorID, sess.CreatedAt.UnixMilli())
	if err != nil {
		return callerr.Store(callerr.CodeStoreWrite, "insert session", err)
	}

	if err := upsertParticipantTx(ctx, tx, initiator); err != nil {
		return err
	}

	if err := insertEventTx(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return callerr.Store(callerr.CodeStoreTx, "commit transaction", err)
	}
	return nil
}

// AnswerSession performs the winning ringing->active transition. The status
// change is a compare-and-swap: of two concurrent answers exactly one sees
// its UPDATE affect a row, the other gets InvalidState and performs no
// mutation.
func (s *Store) AnswerSession(ctx context.Context, callID, userID string, now time.Time) (*call.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreTx, "begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE call_sessions SET status = ?, started_at = ? WHERE call_id = ? AND status = ?`,
		string(call.StatusActive), now.UnixMilli(), callID, string(call.StatusRinging))
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreWrite, "update session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreWrite, "rows affected", err)
	}
	if n == 0 {
		// Lost the race or the call never existed; distinguish for the caller
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM call_sessions WHERE call_id = ?`, callID).Scan(&status)
		if err == sql.ErrNoRows {
			return nil, callerr.NotFound(callerr.CodeCallNotFound, "call not found")
		}
		if err != nil {
			return nil, callerr.Store(callerr.CodeStoreQuery, "query session status", err)
		}
		return nil, callerr.InvalidState(callerr.CodeNotRinging,
			fmt.Sprintf("call is %s, not ringing", status))
	}

	joined := now
	if err := upsertParticipantTx(ctx, tx, &call.Participant{
		CallID:       callID,
		UserID:       userID,
		Status:       call.ParticipantJoined,
		AudioEnabled: true,
		VideoEnabled: true,
		JoinedAt:     &joined,
	}); err != nil {
		return nil, err
	}

	if err := insertEventTx(ctx, tx, &call.Event{
		CallID:    callID,
		UserID:    userID,
		Type:      call.EventAnswered,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	sess, err := getSessionTx(ctx, tx, callID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, callerr.Store(callerr.CodeStoreTx, "commit transaction", err)
	}
	return sess, nil
}

// RejectSession transitions the session to rejected and marks the rejecting
// participant. It does not require the session to still be ringing: a late
// reject from a second callee overwrites whatever status the call reached.
func (s *Store) RejectSession(ctx context.Context, callID, userID string, now time.Time) (*call.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreTx, "begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE call_sessions SET status = ?, ended_at = ? WHERE call_id = ?`,
		string(call.StatusRejected), now.UnixMilli(), callID)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreWrite, "update session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, callerr.NotFound(callerr.CodeCallNotFound, "call not found")
	}

	if err := upsertParticipantTx(ctx, tx, &call.Participant{
		CallID:       callID,
		UserID:       userID,
		Status:       call.ParticipantRejected,
		AudioEnabled: true,
		VideoEnabled: true,
	}); err != nil {
		return nil, err
	}

	if err := insertEventTx(ctx, tx, &call.Event{
		CallID:    callID,
		UserID:    userID,
		Type:      call.EventRejected,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	sess, err := getSessionTx(ctx, tx, callID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, callerr.Store(callerr.CodeStoreTx, "commit transaction", err)
	}
	return sess, nil
}

// EndSession transitions the session to ended and marks every still-joined
// participant as left. Re-ending an already-ended call re-applies the same
// updates; the operation is idempotent in effect.
func (s *Store) EndSession(ctx context.Context, callID, userID string, now time.Time) (*call.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreTx, "begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE call_sessions SET status = ?, ended_at = ? WHERE call_id = ?`,
		string(call.StatusEnded), now.UnixMilli(), callID)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreWrite, "update session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, callerr.NotFound(callerr.CodeCallNotFound, "call not found")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE call_participants SET status = ?, left_at = ? WHERE call_id = ? AND status = ?`,
		string(call.ParticipantLeft), now.UnixMilli(), callID, string(call.ParticipantJoined))
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreWrite, "update participants", err)
	}

	if err := insertEventTx(ctx, tx, &call.Event{
		CallID:    callID,
		UserID:    userID,
		Type:      call.EventEnded,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	sess, err := getSessionTx(ctx, tx, callID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, callerr.Store(callerr.CodeStoreTx, "commit transaction", err)
	}
	return sess, nil
}

// SetParticipantMedia updates one media flag on the participant row and
// appends the matching toggle event. The event log is append-only:
// toggling to the same value twice appends two events.
func (s *Store) SetParticipantMedia(ctx context.Context, callID, userID string, kind call.MediaKind, enabled bool, now time.Time) (*call.Participant, error) {
	column := "audio_enabled"
	eventType := call.EventAudioToggled
	if kind == call.MediaVideo {
		column = "video_enabled"
		eventType = call.EventVideoToggled
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreTx, "begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE call_participants SET %s = ? WHERE call_id = ? AND user_id = ?`, column),
		boolToInt(enabled), callID, userID)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreWrite, "update participant", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, callerr.NotFound(callerr.CodeParticipantNotFound, "participant not found")
	}

	if err := insertEventTx(ctx, tx, &call.Event{
		CallID:    callID,
		UserID:    userID,
		Type:      eventType,
		Metadata:  map[string]any{"enabled": enabled},
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	p, err := getParticipantTx(ctx, tx, callID, userID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, callerr.Store(callerr.CodeStoreTx, "commit transaction", err)
	}
	return p, nil
}

// MarkParticipantLeft marks one participant as left and appends a
// user_left event. Used by the relay for both graceful leave-call and
// last-connection disconnect handling.
func (s *Store) MarkParticipantLeft(ctx context.Context, callID, userID string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return callerr.Store(callerr.CodeStoreTx, "begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE call_participants SET status = ?, left_at = ? WHERE call_id = ? AND user_id = ?`,
		string(call.ParticipantLeft), now.UnixMilli(), callID, userID)
	if err != nil {
		return callerr.Store(callerr.CodeStoreWrite, "update participant", err)
	}

	if err := insertEventTx(ctx, tx, &call.Event{
		CallID:    callID,
		UserID:    userID,
		Type:      call.EventUserLeft,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return callerr.Store(callerr.CodeStoreTx, "commit transaction", err)
	}
	return nil
}

// UpsertInvited inserts an invited participant row if none exists for the
// (call, user) pair. The primary key on the pair makes repeated invites
// (and later answers) upsert rather than duplicate.
func (s *Store) UpsertInvited(ctx context.Context, callID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_participants (call_id, user_id, status, audio_enabled, video_enabled)
		 VALUES (?, ?, ?, 1, 1)
		 ON CONFLICT (call_id, user_id) DO NOTHING`,
		callID, userID, string(call.ParticipantInvited))
	if err != nil {
		return callerr.Store(callerr.CodeStoreWrite, "insert invited participant", err)
	}
	return nil
}

// AppendEvent appends one audit record
func (s *Store) AppendEvent(ctx context.Context, ev *call.Event) error {
	metadata, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO call_events (call_id, user_id, event_type, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.CallID, nullString(ev.UserID), ev.Type, metadata, ev.CreatedAt.UnixMilli())
	if err != nil {
		return callerr.Store(callerr.CodeStoreWrite, "insert event", err)
	}
	return nil
}

// GetSession returns one session by ID
func (s *Store) GetSession(ctx context.Context, callID string) (*call.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT call_id, room_id, kind, status, initiator_id, created_at, started_at, ended_at
		 FROM call_sessions WHERE call_id = ?`, callID))
}

// SessionStatus returns only the status of a session. Used by the relay to
// revalidate queued incoming-call notifications before redelivery.
func (s *Store) SessionStatus(ctx context.Context, callID string) (call.Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM call_sessions WHERE call_id = ?`, callID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", callerr.NotFound(callerr.CodeCallNotFound, "call not found")
	}
	if err != nil {
		return "", callerr.Store(callerr.CodeStoreQuery, "query session status", err)
	}
	return call.Status(status), nil
}

// ListParticipants returns every participant row for a call
func (s *Store) ListParticipants(ctx context.Context, callID string) ([]call.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT call_id, user_id, status, audio_enabled, video_enabled, joined_at, left_at
		 FROM call_participants WHERE call_id = ? ORDER BY user_id`, callID)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreQuery, "query participants", err)
	}
	defer rows.Close()

	var participants []call.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, callerr.Store(callerr.CodeStoreQuery, "scan participants", err)
	}
	return participants, nil
}

// ListPendingForUser returns ringing sessions created after cutoff where
// the user is an invited participant and not the initiator. This is the
// polling fallback for clients that missed the live notification.
func (s *Store) ListPendingForUser(ctx context.Context, userID string, cutoff time.Time) ([]call.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.call_id, s.room_id, s.kind, s.status, s.initiator_id, s.created_at, s.started_at, s.ended_at
		 FROM call_sessions s
		 JOIN call_participants p ON p.call_id = s.call_id
		 WHERE p.user_id = ? AND p.status = ?
		   AND s.status = ? AND s.initiator_id != ? AND s.created_at > ?
		 ORDER BY s.created_at DESC`,
		userID, string(call.ParticipantInvited), string(call.StatusRinging), userID, cutoff.UnixMilli())
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreQuery, "query pending sessions", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListRoomHistory returns the most recent sessions for a room, newest
// first. Sessions are never deleted, so this is the full call history.
func (s *Store) ListRoomHistory(ctx context.Context, roomID string, limit int) ([]call.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT call_id, room_id, kind, status, initiator_id, created_at, started_at, ended_at
		 FROM call_sessions WHERE room_id = ? ORDER BY created_at DESC LIMIT ?`,
		roomID, limit)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreQuery, "query room history", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListEvents returns the audit trail for a call in append order
func (s *Store) ListEvents(ctx context.Context, callID string) ([]call.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT call_id, user_id, event_type, metadata, created_at
		 FROM call_events WHERE call_id = ? ORDER BY id`, callID)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreQuery, "query events", err)
	}
	defer rows.Close()

	var events []call.Event
	for rows.Next() {
		var (
			ev        call.Event
			userID    sql.NullString
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&ev.CallID, &userID, &ev.Type, &metadata, &createdAt); err != nil {
			return nil, callerr.Store(callerr.CodeStoreQuery, "scan event", err)
		}
		ev.UserID = userID.String
		ev.CreatedAt = time.UnixMilli(createdAt)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
				return nil, callerr.Store(callerr.CodeStoreQuery, "decode event metadata", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, callerr.Store(callerr.CodeStoreQuery, "scan events", err)
	}
	return events, nil
}

// MarkMissedBefore transitions every ringing session created before cutoff
// to missed, in one transaction, and returns the affected sessions so the
// caller can notify ringing clients. Used by the ring-timeout sweeper.
func (s *Store) MarkMissedBefore(ctx context.Context, cutoff, now time.Time) ([]call.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreTx, "begin transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT call_id, room_id, kind, status, initiator_id, created_at, started_at, ended_at
		 FROM call_sessions WHERE status = ? AND created_at < ?`,
		string(call.StatusRinging), cutoff.UnixMilli())
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreQuery, "query stale sessions", err)
	}
	stale, err := collectSessions(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	for i := range stale {
		_, err := tx.ExecContext(ctx,
			`UPDATE call_sessions SET status = ?, ended_at = ? WHERE call_id = ? AND status = ?`,
			string(call.StatusMissed), now.UnixMilli(), stale[i].CallID, string(call.StatusRinging))
		if err != nil {
			return nil, callerr.Store(callerr.CodeStoreWrite, "mark session missed", err)
		}
		if err := insertEventTx(ctx, tx, &call.Event{
			CallID:    stale[i].CallID,
			Type:      call.EventMissed,
			CreatedAt: now,
		}); err != nil {
			return nil, err
		}
		stale[i].Status = call.StatusMissed
		ended := now
		stale[i].EndedAt = &ended
	}

	if err := tx.Commit(); err != nil {
		return nil, callerr.Store(callerr.CodeStoreTx, "commit transaction", err)
	}
	return stale, nil
}
