package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hivechat/callbridge/pkg/call"
	"github.com/hivechat/callbridge/pkg/callerr"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*call.Session, error) {
	var (
		sess      call.Session
		kind      string
		status    string
		createdAt int64
		startedAt sql.NullInt64
		endedAt   sql.NullInt64
	)
	err := row.Scan(&sess.CallID, &sess.RoomID, &kind, &status, &sess.InitiatorID, &createdAt, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, callerr.NotFound(callerr.CodeCallNotFound, "call not found")
	}
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreQuery, "scan session", err)
	}
	sess.Kind = call.Kind(kind)
	sess.Status = call.Status(status)
	sess.CreatedAt = time.UnixMilli(createdAt)
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64)
		sess.StartedAt = &t
	}
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		sess.EndedAt = &t
	}
	return &sess, nil
}

func scanParticipant(row rowScanner) (*call.Participant, error) {
	var (
		p        call.Participant
		status   string
		audio    int
		video    int
		joinedAt sql.NullInt64
		leftAt   sql.NullInt64
	)
	err := row.Scan(&p.CallID, &p.UserID, &status, &audio, &video, &joinedAt, &leftAt)
	if err == sql.ErrNoRows {
		return nil, callerr.NotFound(callerr.CodeParticipantNotFound, "participant not found")
	}
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreQuery, "scan participant", err)
	}
	p.Status = call.ParticipantStatus(status)
	p.AudioEnabled = audio != 0
	p.VideoEnabled = video != 0
	if joinedAt.Valid {
		t := time.UnixMilli(joinedAt.Int64)
		p.JoinedAt = &t
	}
	if leftAt.Valid {
		t := time.UnixMilli(leftAt.Int64)
		p.LeftAt = &t
	}
	return &p, nil
}

func collectSessions(rows *sql.Rows) ([]call.Session, error) {
	var sessions []call.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, callerr.Store(callerr.CodeStoreQuery, "scan sessions", err)
	}
	return sessions, nil
}

// upsertParticipantTx inserts or updates the (call, user) participant row.
// The primary key on the pair is what guarantees at most one row per pair.
func upsertParticipantTx(ctx context.Context, tx *sql.Tx, p *call.Participant) error {
	var joinedAt, leftAt any
	if p.JoinedAt != nil {
		joinedAt = p.JoinedAt.UnixMilli()
	}
	if p.LeftAt != nil {
		leftAt = p.LeftAt.UnixMilli()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO call_participants (call_id, user_id, status, audio_enabled, video_enabled, joined_at, left_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (call_id, user_id) DO UPDATE SET
			status = excluded.status,
			joined_at = COALESCE(excluded.joined_at, call_participants.joined_at),
			left_at = excluded.left_at`,
		p.CallID, p.UserID, string(p.Status), boolToInt(p.AudioEnabled), boolToInt(p.VideoEnabled), joinedAt, leftAt)
	if err != nil {
		return callerr.Store(callerr.CodeStoreWrite, "upsert participant", err)
	}
	return nil
}

func insertEventTx(ctx context.Context, tx *sql.Tx, ev *call.Event) error {
	metadata, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO call_events (call_id, user_id, event_type, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.CallID, nullString(ev.UserID), ev.Type, metadata, ev.CreatedAt.UnixMilli())
	if err != nil {
		return callerr.Store(callerr.CodeStoreWrite, "insert event", err)
	}
	return nil
}

func getSessionTx(ctx context.Context, tx *sql.Tx, callID string) (*call.Session, error) {
	return scanSession(tx.QueryRowContext(ctx,
		`SELECT call_id, room_id, kind, status, initiator_id, created_at, started_at, ended_at
		 FROM call_sessions WHERE call_id = ?`, callID))
}

func getParticipantTx(ctx context.Context, tx *sql.Tx, callID, userID string) (*call.Participant, error) {
	return scanParticipant(tx.QueryRowContext(ctx,
		`SELECT call_id, user_id, status, audio_enabled, video_enabled, joined_at, left_at
		 FROM call_participants WHERE call_id = ? AND user_id = ?`, callID, userID))
}

func marshalMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, callerr.Store(callerr.CodeStoreWrite, "encode event metadata", err)
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
