package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/config"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "minutes.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

var epoch = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func sampleRecord() meeting.SessionRecord {
	return meeting.SessionRecord{
		SessionID: "session-123",
		Info:      meeting.MeetingInfo{Title: "Weekly sync", Participants: []string{"Aiko", "Ben"}},
		StartedAt: epoch,
		StoppedAt: epoch.Add(90 * time.Second),
		Elapsed:   80 * time.Second,
		Audio:     &meeting.AudioBlob{Path: "/tmp/session-123.wav", MIMEType: "audio/wav", Duration: 80 * time.Second},
		Lines: []meeting.TranscriptLine{
			{SpeakerID: "speaker-1", Text: "hello world", CreatedAt: epoch, LastUpdatedAt: epoch.Add(1500 * time.Millisecond)},
			{SpeakerID: "speaker-2", Text: "goodbye", CreatedAt: epoch.Add(8 * time.Second), LastUpdatedAt: epoch.Add(8 * time.Second)},
		},
		Speakers: []meeting.Speaker{
			{ID: "speaker-1", ColorIndex: 0, Color: "#3b82f6", UtteranceCount: 2, LastActive: epoch.Add(1500 * time.Millisecond)},
			{ID: "speaker-2", ColorIndex: 1, Color: "#10b981", UtteranceCount: 1, LastActive: epoch.Add(8 * time.Second)},
		},
	}
}

func TestOpenEphemeral(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if err := es.Archive(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("archive on ephemeral store: %v", err)
	}
	if _, err := es.LoadSession(context.Background(), "session-123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from ephemeral store, got %v", err)
	}
}

func TestArchiveAndLoad(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()
	rec := sampleRecord()
	if err := es.Archive(ctx, rec); err != nil {
		t.Fatalf("archive: %v", err)
	}

	got, err := es.LoadSession(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Info.Title != "Weekly sync" || len(got.Info.Participants) != 2 {
		t.Fatalf("unexpected info: %+v", got.Info)
	}
	if !got.StartedAt.Equal(rec.StartedAt) || got.Elapsed != rec.Elapsed {
		t.Fatalf("unexpected timing: %+v", got)
	}
	if got.Audio == nil || got.Audio.Path != rec.Audio.Path || got.Audio.Duration != rec.Audio.Duration {
		t.Fatalf("unexpected audio: %+v", got.Audio)
	}
	if got.Minutes != nil {
		t.Fatalf("expected no minutes yet")
	}
	if len(got.Lines) != 2 || got.Lines[0].Text != "hello world" || !got.Lines[0].LastUpdatedAt.Equal(rec.Lines[0].LastUpdatedAt) {
		t.Fatalf("unexpected lines: %+v", got.Lines)
	}
	if len(got.Speakers) != 2 || got.Speakers[1].Color != "#10b981" || got.Speakers[0].UtteranceCount != 2 {
		t.Fatalf("unexpected speakers: %+v", got.Speakers)
	}

	// Re-archiving after a rename and minutes retry replaces the earlier copy.
	rec.Lines[1].SpeakerID = "Ben"
	rec.Speakers[1].ID = "Ben"
	rec.Minutes = &meeting.Minutes{Discussion: "short", Decisions: []string{"ship"}}
	if err := es.Archive(ctx, rec); err != nil {
		t.Fatalf("re-archive: %v", err)
	}
	got, err = es.LoadSession(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Minutes == nil || got.Minutes.Discussion != "short" {
		t.Fatalf("expected minutes after re-archive, got %+v", got.Minutes)
	}
	if len(got.Lines) != 2 || got.Lines[1].SpeakerID != "Ben" || got.Speakers[1].ID != "Ben" {
		t.Fatalf("expected renamed speaker after re-archive: %+v %+v", got.Lines, got.Speakers)
	}

	if _, err := es.LoadSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	older := sampleRecord()
	older.SessionID = "older"
	older.StartedAt = epoch.Add(-time.Hour)
	newer := sampleRecord()
	newer.SessionID = "newer"
	newer.Minutes = &meeting.Minutes{Discussion: "x"}
	for _, rec := range []meeting.SessionRecord{older, newer} {
		if err := es.Archive(ctx, rec); err != nil {
			t.Fatalf("archive %s: %v", rec.SessionID, err)
		}
	}
	if err := es.AppendSession(ctx, "still-recording"); err != nil {
		t.Fatalf("append session: %v", err)
	}

	list, err := es.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].SessionID != "newer" || list[1].SessionID != "older" {
		t.Fatalf("unexpected listing: %+v", list)
	}
	if !list[0].HasMinutes || list[1].HasMinutes || list[0].Lines != 2 || list[0].Speakers != 2 {
		t.Fatalf("unexpected summary: %+v", list[0])
	}
	if list[0].ElapsedMS != 80000 {
		t.Fatalf("unexpected elapsed: %d", list[0].ElapsedMS)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	sessionID := "session-123"
	if err := es.AppendSession(ctx, sessionID); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: sessionID, Type: "test", Payload: []byte("hello")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Payload) != "hello" {
		t.Fatalf("unexpected payload: %s", events[0].Payload)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	old := sampleRecord()
	old.SessionID = "old-session"
	if err := es.Archive(ctx, old); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "old-session", Type: "note"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "new-session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session events pruned")
	}
	if _, err := es.LoadSession(ctx, "old-session"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old session pruned, got %v", err)
	}
	var lines int
	if err := es.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lines`).Scan(&lines); err != nil {
		t.Fatalf("count lines: %v", err)
	}
	if lines != 0 {
		t.Fatalf("expected lines to cascade, got %d", lines)
	}
}

func TestTimelineRecordsNotifications(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	tl := NewTimeline(es, newLogger())

	line := meeting.TranscriptLine{SpeakerID: "speaker-1", Text: "hello"}
	tl.StateChanged("s-1", meeting.StateRecording, meeting.ReasonStarted, 0)
	tl.InterimUpdated("s-1", "hel")
	tl.LineCommitted("s-1", 0, line, false)
	tl.SpeakerRenamed("s-1", "speaker-1", "Aiko")
	tl.RecognitionFailed("s-1", errors.New("network"))
	tl.Tick("s-1", time.Second)
	tl.Close()
	tl.StateChanged("s-1", meeting.StateStopped, meeting.ReasonStopped, time.Second)

	events, err := es.ListSessionEvents(context.Background(), "s-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	want := []string{EventStateChanged, EventLineCommitted, EventSpeakerRenamed, EventRecognitionFailed}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}
	var payload struct {
		Index int                    `json:"index"`
		Line  meeting.TranscriptLine `json:"line"`
	}
	if err := json.Unmarshal(events[1].Payload, &payload); err != nil {
		t.Fatalf("decode line payload: %v", err)
	}
	if payload.Line.Text != "hello" {
		t.Fatalf("unexpected line payload: %+v", payload)
	}
}
