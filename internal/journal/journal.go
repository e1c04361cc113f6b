package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/ecsync/server/internal/replication"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Recorder writes every outbound replication frame to the frame journal,
// zstd-compressed. One Recorder covers one server session; the session row
// is created at construction.
type Recorder struct {
	db      *DB
	session uuid.UUID
	enc     *zstd.Encoder
	ctx     context.Context
	log     *zap.Logger
}

const writeTimeout = 5 * time.Second

func NewRecorder(ctx context.Context, db *DB, serverName string, level int, log *zap.Logger) (*Recorder, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}

	session := uuid.New()
	if _, err := db.Pool.Exec(ctx,
		`INSERT INTO sessions (id, server_name) VALUES ($1, $2)`,
		session, serverName,
	); err != nil {
		enc.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Info("日誌工作階段已建立", zap.String("session", session.String()))

	return &Recorder{db: db, session: session, enc: enc, ctx: ctx, log: log}, nil
}

// Session returns the id of the session this recorder writes under.
func (r *Recorder) Session() uuid.UUID { return r.session }

func (r *Recorder) record(frame uint32, msgID byte, clientID *string, packed []byte) error {
	ctx, cancel := context.WithTimeout(r.ctx, writeTimeout)
	defer cancel()

	compressed := r.enc.EncodeAll(packed, nil)
	if _, err := r.db.Pool.Exec(ctx,
		`INSERT INTO frame_journal (session_id, frame, msg_id, client_id, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.session, int64(frame), int16(msgID), clientID, compressed,
	); err != nil {
		return fmt.Errorf("journal insert frame %d: %w", frame, err)
	}
	return nil
}

func (r *Recorder) RecordDelta(frame uint32, packed []byte) error {
	return r.record(frame, replication.MsgDelta, nil, packed)
}

func (r *Recorder) RecordSnapshot(clientID string, frame uint32, packed []byte) error {
	return r.record(frame, replication.MsgSnapshot, &clientID, packed)
}

func (r *Recorder) Close() {
	r.enc.Close()
}

// Entry is one replayable journal row, decompressed.
type Entry struct {
	Frame    uint32
	MsgID    byte
	ClientID string
	Payload  []byte
}

// LoadSession returns a session's frames in recording order, decompressed.
// Snapshot rows carry the client they were sent to.
func LoadSession(ctx context.Context, db *DB, session uuid.UUID) ([]Entry, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()

	rows, err := db.Pool.Query(ctx,
		`SELECT frame, msg_id, client_id, payload
		 FROM frame_journal WHERE session_id = $1 ORDER BY id`,
		session,
	)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			frame    int64
			msgID    int16
			clientID *string
			blob     []byte
		)
		if err := rows.Scan(&frame, &msgID, &clientID, &blob); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		payload, err := dec.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("journal frame %d: %w", frame, err)
		}
		e := Entry{Frame: uint32(frame), MsgID: byte(msgID), Payload: payload}
		if clientID != nil {
			e.ClientID = *clientID
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal rows: %w", err)
	}
	return entries, nil
}

// Sessions lists recorded sessions, newest first.
func Sessions(ctx context.Context, db *DB) ([]uuid.UUID, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("session query: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("session scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
