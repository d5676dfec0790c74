package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loqalabs/loqa-minutes/internal/eventstore"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeMeeting struct {
	lines   []meeting.TranscriptLine
	minutes *meeting.Minutes
	renamed [2]string
	err     error
}

func (m *fakeMeeting) Status() meeting.Status {
	return meeting.Status{SessionID: "live", State: meeting.StateRecording, Lines: len(m.lines)}
}

func (m *fakeMeeting) CurrentTranscript() []meeting.TranscriptLine { return m.lines }

func (m *fakeMeeting) RenameSpeaker(oldID, newID string) error {
	if m.err != nil {
		return m.err
	}
	m.renamed = [2]string{oldID, newID}
	return nil
}

func (m *fakeMeeting) Snapshot() meeting.SessionRecord {
	return meeting.SessionRecord{SessionID: "live", Lines: m.lines, Minutes: m.minutes}
}

type fakeArchive struct {
	records map[string]meeting.SessionRecord
	limit   int
}

func (a *fakeArchive) ListSessions(_ context.Context, limit int) ([]eventstore.SessionSummary, error) {
	a.limit = limit
	var out []eventstore.SessionSummary
	for id, rec := range a.records {
		out = append(out, eventstore.SessionSummary{SessionID: id, Title: rec.Info.Title, Lines: len(rec.Lines)})
	}
	return out, nil
}

func (a *fakeArchive) LoadSession(_ context.Context, id string) (meeting.SessionRecord, error) {
	rec, ok := a.records[id]
	if !ok {
		return rec, eventstore.ErrNotFound
	}
	return rec, nil
}

func newTools() (*tools, *fakeMeeting, *fakeArchive) {
	m := &fakeMeeting{lines: []meeting.TranscriptLine{
		{SpeakerID: "speaker-1", Text: "Morning all", CreatedAt: epoch},
		{SpeakerID: "speaker-2", Text: "Let's begin", CreatedAt: epoch.Add(12 * time.Second)},
	}}
	a := &fakeArchive{records: map[string]meeting.SessionRecord{
		"s-1": {
			SessionID: "s-1",
			Info:      meeting.MeetingInfo{Title: "Retro"},
			StartedAt: epoch,
			Lines:     []meeting.TranscriptLine{{SpeakerID: "Aiko", Text: "Went well", CreatedAt: epoch}},
			Minutes:   &meeting.Minutes{Discussion: "Short retro.", Decisions: []string{"Keep the format"}},
		},
	}}
	return &tools{meeting: m, archive: a, log: newLogger()}, m, a
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

type toolFunc func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// text runs a tool that is expected to succeed and returns its text content.
func text(t *testing.T, fn toolFunc, args map[string]any) string {
	t.Helper()
	res, err := fn(context.Background(), call(args))
	if err != nil {
		t.Fatalf("tool returned error: %v", err)
	}
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content %T", c)
		return ""
	}
}

// toolError runs a tool that is expected to report a tool-level error.
func toolError(t *testing.T, fn toolFunc, args map[string]any) {
	t.Helper()
	res, err := fn(context.Background(), call(args))
	if err != nil || res == nil || !res.IsError {
		t.Fatalf("expected tool error, got %+v %v", res, err)
	}
}

func TestLiveTranscript(t *testing.T) {
	tl, _, _ := newTools()
	got := text(t, tl.liveTranscript, nil)
	want := "[00:00:00] speaker-1: Morning all\n[00:00:12] speaker-2: Let's begin\n"
	if got != want {
		t.Fatalf("unexpected transcript:\n%s", got)
	}
}

func TestStatusIsJSON(t *testing.T) {
	tl, _, _ := newTools()
	var st meeting.Status
	if err := json.Unmarshal([]byte(text(t, tl.status, nil)), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.State != meeting.StateRecording || st.Lines != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestRenameSpeaker(t *testing.T) {
	tl, m, _ := newTools()
	if got := text(t, tl.renameSpeaker, map[string]any{"from": "speaker-2", "to": "Ben"}); got != "Renamed speaker-2 to Ben." {
		t.Fatalf("unexpected result: %q", got)
	}
	if m.renamed != [2]string{"speaker-2", "Ben"} {
		t.Fatalf("rename not forwarded: %v", m.renamed)
	}

	m.err = meeting.ErrSpeakerExists
	toolError(t, tl.renameSpeaker, map[string]any{"from": "speaker-1", "to": "Ben"})
	toolError(t, tl.renameSpeaker, map[string]any{"from": "speaker-1"})
}

func TestListSessionsUsesLimit(t *testing.T) {
	tl, _, a := newTools()
	got := text(t, tl.listSessions, map[string]any{"limit": 5})
	if a.limit != 5 || !strings.Contains(got, "\"session_id\": \"s-1\"") {
		t.Fatalf("unexpected listing (limit %d): %s", a.limit, got)
	}
	text(t, tl.listSessions, nil)
	if a.limit != 20 {
		t.Fatalf("expected default limit 20, got %d", a.limit)
	}
}

func TestSessionTranscriptAndMissingSession(t *testing.T) {
	tl, _, _ := newTools()
	if got := text(t, tl.sessionTranscript, map[string]any{"session_id": "s-1"}); got != "[00:00:00] Aiko: Went well\n" {
		t.Fatalf("unexpected transcript: %q", got)
	}
	toolError(t, tl.sessionTranscript, map[string]any{"session_id": "nope"})
	toolError(t, tl.sessionTranscript, nil)
}

func TestMeetingMinutes(t *testing.T) {
	tl, _, _ := newTools()
	got := text(t, tl.meetingMinutes, map[string]any{"session_id": "s-1"})
	if !strings.Contains(got, "**Title:** Retro") || !strings.Contains(got, "Keep the format") {
		t.Fatalf("unexpected markdown minutes:\n%s", got)
	}
	got = text(t, tl.meetingMinutes, map[string]any{"session_id": "s-1", "format": "json"})
	if !strings.Contains(got, "\"discussion\": \"Short retro.\"") {
		t.Fatalf("unexpected json minutes: %s", got)
	}
	toolError(t, tl.meetingMinutes, map[string]any{"session_id": "s-1", "format": "pdf"})
	toolError(t, tl.meetingMinutes, nil)
}

func TestServerListsTools(t *testing.T) {
	_, m, a := newTools()
	s := New(m, a, "test", newLogger())
	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	for _, name := range []string{"meeting_status", "live_transcript", "rename_speaker", "list_sessions", "session_transcript", "meeting_minutes"} {
		if !strings.Contains(string(data), "\""+name+"\"") {
			t.Fatalf("tools/list missing %s: %s", name, data)
		}
	}
}
