package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/config"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session is not in the archive.
var ErrNotFound = errors.New("session not found")

// Event represents a recorded timeline entry.
type Event struct {
	ID        int64
	SessionID string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// SessionSummary is a list view of an archived session.
type SessionSummary struct {
	SessionID  string        `json:"session_id"`
	Title      string        `json:"title,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	StoppedAt  time.Time     `json:"stopped_at"`
	Elapsed    time.Duration `json:"-"`
	ElapsedMS  int64         `json:"elapsed_ms"`
	Lines      int           `json:"lines"`
	Speakers   int           `json:"speakers"`
	HasMinutes bool          `json:"has_minutes"`
}

// Store is the SQLite-backed meeting archive and event timeline.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

// Times are stored as Unix milliseconds; zero means unset.
func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    participants TEXT,
    started_at INTEGER NOT NULL DEFAULT 0,
    stopped_at INTEGER NOT NULL DEFAULT 0,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    audio BLOB,
    minutes BLOB,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS speakers (
    session_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    speaker_id TEXT NOT NULL,
    color_index INTEGER NOT NULL,
    color TEXT,
    utterance_count INTEGER NOT NULL,
    last_active INTEGER NOT NULL,
    PRIMARY KEY(session_id, position),
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS lines (
    session_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    speaker_id TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    last_updated_at INTEGER NOT NULL,
    PRIMARY KEY(session_id, position),
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// AppendSession ensures a session row exists.
func (s *Store) AppendSession(ctx context.Context, sessionID string) error {
	if s.disabled() {
		return nil
	}
	now := millis(s.clock())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, created_at, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, now, now)
	return err
}

// Archive stores a stopped session, replacing any earlier copy of it.
func (s *Store) Archive(ctx context.Context, rec meeting.SessionRecord) (err error) {
	if s.disabled() {
		return nil
	}
	participants, err := json.Marshal(rec.Info.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	audio, err := encodeOptional(rec.Audio)
	if err != nil {
		return fmt.Errorf("encode audio: %w", err)
	}
	minutes, err := encodeOptional(rec.Minutes)
	if err != nil {
		return fmt.Errorf("encode minutes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := millis(s.clock())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(session_id, title, participants, started_at, stopped_at, elapsed_ms, audio, minutes, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   title=excluded.title, participants=excluded.participants,
		   started_at=excluded.started_at, stopped_at=excluded.stopped_at,
		   elapsed_ms=excluded.elapsed_ms, audio=excluded.audio,
		   minutes=excluded.minutes, updated_at=excluded.updated_at`,
		rec.SessionID, rec.Info.Title, string(participants), millis(rec.StartedAt), millis(rec.StoppedAt),
		rec.Elapsed.Milliseconds(), audio, minutes, now, now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM speakers WHERE session_id = ?`, rec.SessionID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM lines WHERE session_id = ?`, rec.SessionID); err != nil {
		return err
	}
	for i, sp := range rec.Speakers {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO speakers(session_id, position, speaker_id, color_index, color, utterance_count, last_active)
			 VALUES(?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, i, sp.ID, sp.ColorIndex, sp.Color, sp.UtteranceCount, millis(sp.LastActive))
		if err != nil {
			return fmt.Errorf("insert speaker: %w", err)
		}
	}
	for i, line := range rec.Lines {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO lines(session_id, position, speaker_id, text, created_at, last_updated_at)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			rec.SessionID, i, line.SpeakerID, line.Text, millis(line.CreatedAt), millis(line.LastUpdatedAt))
		if err != nil {
			return fmt.Errorf("insert line: %w", err)
		}
	}
	err = tx.Commit()
	return err
}

// LoadSession reads an archived session back.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (meeting.SessionRecord, error) {
	if s.disabled() {
		return meeting.SessionRecord{}, ErrNotFound
	}
	var (
		rec                   meeting.SessionRecord
		participants          sql.NullString
		audio, minutes        []byte
		started, stopped, dur int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, title, participants, started_at, stopped_at, elapsed_ms, audio, minutes
		 FROM sessions WHERE session_id = ?`, sessionID)
	err := row.Scan(&rec.SessionID, &rec.Info.Title, &participants, &started, &stopped, &dur, &audio, &minutes)
	if errors.Is(err, sql.ErrNoRows) {
		return meeting.SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return meeting.SessionRecord{}, err
	}
	rec.StartedAt = fromMillis(started)
	rec.StoppedAt = fromMillis(stopped)
	rec.Elapsed = time.Duration(dur) * time.Millisecond
	if participants.Valid && participants.String != "" {
		if err := json.Unmarshal([]byte(participants.String), &rec.Info.Participants); err != nil {
			return meeting.SessionRecord{}, fmt.Errorf("decode participants: %w", err)
		}
	}
	if len(audio) > 0 {
		rec.Audio = new(meeting.AudioBlob)
		if err := json.Unmarshal(audio, rec.Audio); err != nil {
			return meeting.SessionRecord{}, fmt.Errorf("decode audio: %w", err)
		}
	}
	if len(minutes) > 0 {
		rec.Minutes = new(meeting.Minutes)
		if err := json.Unmarshal(minutes, rec.Minutes); err != nil {
			return meeting.SessionRecord{}, fmt.Errorf("decode minutes: %w", err)
		}
	}

	if rec.Speakers, err = s.loadSpeakers(ctx, sessionID); err != nil {
		return meeting.SessionRecord{}, err
	}
	if rec.Lines, err = s.loadLines(ctx, sessionID); err != nil {
		return meeting.SessionRecord{}, err
	}
	return rec, nil
}

func (s *Store) loadSpeakers(ctx context.Context, sessionID string) ([]meeting.Speaker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT speaker_id, color_index, color, utterance_count, last_active
		 FROM speakers WHERE session_id = ? ORDER BY position ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var speakers []meeting.Speaker
	for rows.Next() {
		var sp meeting.Speaker
		var color sql.NullString
		var last int64
		if err := rows.Scan(&sp.ID, &sp.ColorIndex, &color, &sp.UtteranceCount, &last); err != nil {
			return nil, err
		}
		sp.Color = color.String
		sp.LastActive = fromMillis(last)
		speakers = append(speakers, sp)
	}
	return speakers, rows.Err()
}

func (s *Store) loadLines(ctx context.Context, sessionID string) ([]meeting.TranscriptLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT speaker_id, text, created_at, last_updated_at
		 FROM lines WHERE session_id = ? ORDER BY position ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []meeting.TranscriptLine
	for rows.Next() {
		var line meeting.TranscriptLine
		var created, updated int64
		if err := rows.Scan(&line.SpeakerID, &line.Text, &created, &updated); err != nil {
			return nil, err
		}
		line.CreatedAt = fromMillis(created)
		line.LastUpdatedAt = fromMillis(updated)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListSessions returns up to limit archived sessions, most recent first.
// Sessions that only have timeline events are skipped.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.title, s.started_at, s.stopped_at, s.elapsed_ms, s.minutes IS NOT NULL,
		        (SELECT COUNT(*) FROM lines l WHERE l.session_id = s.session_id),
		        (SELECT COUNT(*) FROM speakers p WHERE p.session_id = s.session_id)
		 FROM sessions s WHERE s.stopped_at > 0
		 ORDER BY s.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var started, stopped, dur int64
		if err := rows.Scan(&sum.SessionID, &sum.Title, &started, &stopped, &dur, &sum.HasMinutes, &sum.Lines, &sum.Speakers); err != nil {
			return nil, err
		}
		sum.StartedAt = fromMillis(started)
		sum.StoppedAt = fromMillis(stopped)
		sum.Elapsed = time.Duration(dur) * time.Millisecond
		sum.ElapsedMS = dur
		out = append(out, sum)
	}
	return out, rows.Err()
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(session_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		evt.SessionID, evt.Type, evt.Payload, millis(evt.CreatedAt))
	return err
}

// ListSessionEvents retrieves up to limit events for a session ordered ascending by time.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, payload, created_at
		 FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
// Deleting a session cascades to its speakers, lines and events.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, millis(cutoff)); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func encodeOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
