package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easyso/easyso/internal/history"
	"github.com/easyso/easyso/internal/paths"
)

// Store handles checkpoint persistence.
type Store struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewStore attaches to an open database and migrates it. The caller
// keeps ownership of db; Close on the returned Store leaves it open.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, logger: slog.Default()}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Open opens (creating if needed) the sqlite database at path with the
// named driver and migrates it. The caller must Close the store.
func Open(path, driver string, logger *slog.Logger) (*Store, error) {
	dsn, err := dataSourceName(driver, path)
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureParent(path); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	if logger != nil {
		s.logger = logger
	}
	s.logger = s.logger.With("component", "checkpoint")
	s.logger.Debug("checkpoint store opened", "path", path, "driver", driver)
	return s, nil
}

// DB returns the underlying database so other stores can share the
// file.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database if the store opened it. Safe to call
// more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.owned {
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			source TEXT NOT NULL,
			note TEXT,
			state_gz BLOB NOT NULL,
			byte_size INTEGER NOT NULL,
			turn_count INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoints_thread_seq
			ON checkpoints(thread_id, seq);
	`)
	return err
}

// Save writes a new checkpoint for threadID holding turns. The write is
// transactional: the thread's latest checkpoint is read, its turns must
// be a prefix of turns (otherwise ErrDiverged), and the new record gets
// the next sequence number. Saving turns identical to the latest
// checkpoint writes nothing and returns the latest.
func (s *Store) Save(ctx context.Context, threadID string, turns []history.Turn, meta Meta) (*Checkpoint, error) {
	if threadID == "" {
		return nil, errors.New("checkpoint: thread id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	latest, err := scanFull(tx.QueryRowContext(ctx, selectFull+` WHERE thread_id = ? ORDER BY seq DESC LIMIT 1`, threadID))
	switch {
	case errors.Is(err, ErrNotFound):
		latest = nil
	case err != nil:
		return nil, fmt.Errorf("read latest: %w", err)
	}

	var seq int64 = 1
	if latest != nil {
		if !history.IsPrefix(latest.State.Turns, turns) {
			return nil, fmt.Errorf("thread %s: %w", threadID, ErrDiverged)
		}
		if len(latest.State.Turns) == len(turns) {
			return latest, nil
		}
		seq = latest.Seq + 1
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	source := meta.Source
	if source == "" {
		source = SourceTurn
	}
	state := &State{Turns: turns, Meta: meta}
	compressed, err := compress(state)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, thread_id, seq, created_at, source, note, state_gz, byte_size, turn_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), threadID, seq, formatTime(now), string(source), meta.Note, compressed, len(compressed), len(turns))
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("checkpoint saved", "thread", threadID, "seq", seq, "turns", len(turns), "bytes", len(compressed))

	return &Checkpoint{
		ID:        id,
		ThreadID:  threadID,
		Seq:       seq,
		CreatedAt: now,
		Source:    source,
		Note:      meta.Note,
		State:     state,
		ByteSize:  int64(len(compressed)),
		TurnCount: len(turns),
	}, nil
}

// Resume returns the turns of the thread's latest checkpoint, or nil
// when the thread has none.
func (s *Store) Resume(ctx context.Context, threadID string) ([]history.Turn, error) {
	cp, err := s.Latest(ctx, threadID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cp.State.Turns, nil
}

// Latest returns the thread's most recent checkpoint including state.
func (s *Store) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	return scanFull(s.db.QueryRowContext(ctx, selectFull+` WHERE thread_id = ? ORDER BY seq DESC LIMIT 1`, threadID))
}

// Get retrieves a checkpoint by ID, including state.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Checkpoint, error) {
	return scanFull(s.db.QueryRowContext(ctx, selectFull+` WHERE id = ?`, id.String()))
}

// List returns a thread's checkpoints newest first, without state.
func (s *Store) List(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, seq, created_at, source, note, byte_size, turn_count
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var idStr, createdStr, source string
		var note sql.NullString
		if err := rows.Scan(&idStr, &cp.ThreadID, &cp.Seq, &createdStr, &source, &note, &cp.ByteSize, &cp.TurnCount); err != nil {
			return nil, err
		}
		if err := cp.fill(idStr, createdStr, source, note); err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, &cp)
	}
	return checkpoints, rows.Err()
}

// Threads summarizes every thread that has checkpoints, most recently
// active first.
func (s *Store) Threads(ctx context.Context) ([]ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, COUNT(*), MAX(turn_count), MAX(created_at)
		FROM checkpoints
		GROUP BY thread_id
		ORDER BY MAX(created_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []ThreadSummary
	for rows.Next() {
		var ts ThreadSummary
		var last string
		if err := rows.Scan(&ts.ThreadID, &ts.Checkpoints, &ts.Turns, &last); err != nil {
			return nil, err
		}
		ts.LastAt, _ = time.Parse(time.RFC3339Nano, last)
		out = append(out, ts)
	}
	return out, rows.Err()
}

// timeLayout is RFC 3339 with a fixed-width fraction, so stored
// timestamps order correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

const selectFull = `
	SELECT id, thread_id, seq, created_at, source, note, state_gz, byte_size, turn_count
	FROM checkpoints`

func scanFull(row *sql.Row) (*Checkpoint, error) {
	var cp Checkpoint
	var idStr, createdStr, source string
	var note sql.NullString
	var stateGz []byte

	err := row.Scan(&idStr, &cp.ThreadID, &cp.Seq, &createdStr, &source, &note, &stateGz, &cp.ByteSize, &cp.TurnCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := cp.fill(idStr, createdStr, source, note); err != nil {
		return nil, err
	}

	cp.State, err = decompress(stateGz)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", idStr, err)
	}
	return &cp, nil
}

func (cp *Checkpoint) fill(idStr, createdStr, source string, note sql.NullString) error {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("parse id %q: %w", idStr, err)
	}
	cp.ID = id
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	cp.Source = Source(source)
	if note.Valid {
		cp.Note = note.String
	}
	return nil
}

func compress(state *State) ([]byte, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(stateJSON); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(stateGz []byte) (*State, error) {
	gr, err := gzip.NewReader(bytes.NewReader(stateGz))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	stateJSON, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var state State
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}
