package minutes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/config"
	"github.com/loqalabs/loqa-minutes/internal/llm"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scriptedGenerator struct {
	chunks []string
	err    error
	got    llm.Request
}

func (g *scriptedGenerator) Generate(_ context.Context, req llm.Request, consumer func(llm.Chunk) error) error {
	g.got = req
	if g.err != nil {
		return g.err
	}
	for i, c := range g.chunks {
		if err := consumer(llm.Chunk{Content: c, Partial: i < len(g.chunks)-1}); err != nil {
			return err
		}
	}
	return nil
}

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func request() meeting.MinutesRequest {
	return meeting.MinutesRequest{
		SessionID: "s-1",
		Info:      meeting.MeetingInfo{Title: "Planning", Participants: []string{"Aiko", "Ben"}},
		Lines: []meeting.TranscriptLine{
			{SpeakerID: "Aiko", Text: "Let's ship on Friday", CreatedAt: epoch},
			{SpeakerID: "speaker-2", Text: "I will write the notes", CreatedAt: epoch.Add(65 * time.Second)},
		},
		Speakers: []meeting.Speaker{{ID: "Aiko", UtteranceCount: 1}, {ID: "speaker-2", UtteranceCount: 1}},
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(request())
	for _, want := range []string{
		"Meeting title: Planning\n",
		"Participants: Aiko, Ben\n",
		"Speakers: Aiko (1 utterances), speaker-2 (1 utterances)\n",
		"[00:00:00] Aiko: Let's ship on Friday\n",
		"[00:01:05] speaker-2: I will write the notes\n",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGenerateParsesStreamedJSON(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{
		"```json\n{\"title\": \"Release planning\", \"agenda\": [\"Release\", \" \"],",
		" \"decisions\": [\"Ship Friday\"], \"actionItems\": [{\"task\": \"Write notes\", \"assignee\": \"speaker-2\", \"deadline\": \"Thu\"}, {\"task\": \"\"}],",
		" \"nextMeeting\": \"Monday\"}\n```",
	}}
	svc := NewLLMService(gen, config.LLMConfig{MaxTokens: 256, Temperature: 0.1}, time.Second, newLogger())

	m, err := svc.Generate(context.Background(), request())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if m.Title != "Release planning" || len(m.Agenda) != 1 || m.Agenda[0] != "Release" {
		t.Fatalf("unexpected header fields: %+v", m)
	}
	if len(m.Decisions) != 1 || m.NextMeeting != "Monday" {
		t.Fatalf("unexpected decisions or next meeting: %+v", m)
	}
	if len(m.ActionItems) != 1 || m.ActionItems[0].Assignee != "speaker-2" {
		t.Fatalf("unexpected action items: %+v", m.ActionItems)
	}
	if gen.got.Format != "json" || gen.got.SessionID != "s-1" || gen.got.MaxTokens != 256 || gen.got.System == "" {
		t.Fatalf("unexpected llm request: %+v", gen.got)
	}
}

func TestGenerateFallsBackToPlainText(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"We agreed to ship on Friday."}}
	svc := NewLLMService(gen, config.LLMConfig{}, 0, newLogger())
	m, err := svc.Generate(context.Background(), request())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if m.Discussion != "We agreed to ship on Friday." || m.Title != "" {
		t.Fatalf("expected discussion fallback, got %+v", m)
	}
}

func TestGenerateErrors(t *testing.T) {
	svc := NewLLMService(&scriptedGenerator{}, config.LLMConfig{}, 0, newLogger())
	if _, err := svc.Generate(context.Background(), meeting.MinutesRequest{}); !errors.Is(err, meeting.ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
	if _, err := svc.Generate(context.Background(), request()); !errors.Is(err, errEmptyResponse) {
		t.Fatalf("expected empty response error, got %v", err)
	}

	boom := errors.New("connection refused")
	svc = NewLLMService(&scriptedGenerator{err: boom}, config.LLMConfig{}, 0, newLogger())
	if _, err := svc.Generate(context.Background(), request()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped generator error, got %v", err)
	}
}

func TestGenerateWithMockGenerator(t *testing.T) {
	svc := NewLLMService(llm.NewMockGenerator(), config.LLMConfig{}, time.Second, newLogger())
	m, err := svc.Generate(context.Background(), request())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(m.Discussion, "[mock completion for ") || len(m.Agenda) != 1 {
		t.Fatalf("unexpected mock minutes: %+v", m)
	}
}

func TestRenderMarkdown(t *testing.T) {
	e := Export{
		Minutes: meeting.Minutes{
			Agenda:      []string{"Release"},
			Discussion:  "Short sync.",
			Decisions:   []string{"Ship Friday"},
			ActionItems: []meeting.ActionItem{{Task: "Write | notes", Assignee: "Ben", Deadline: "Thu"}, {}},
		},
		Info:      meeting.MeetingInfo{Title: "Planning", Participants: []string{"Aiko", "Ben"}},
		StartedAt: epoch,
	}
	body, contentType, err := Render("markdown", e)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(contentType, "text/markdown") {
		t.Fatalf("unexpected content type %q", contentType)
	}
	for _, want := range []string{
		"**Title:** Planning\n",
		"**Date:** 2026-03-02 09:00\n",
		"**Participants:** Aiko, Ben\n",
		"- Release\n",
		"| Write \\| notes | Ben | Thu |\n",
		"## Next meeting\n\nTBD\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("markdown missing %q:\n%s", want, body)
		}
	}
	if strings.Count(body, "| Ben |") != 1 {
		t.Fatalf("empty action items must be skipped:\n%s", body)
	}
}

func TestRenderText(t *testing.T) {
	e := Export{Minutes: meeting.Minutes{Title: "Retro", Decisions: []string{"a", "b"}, NextMeeting: "Friday"}}
	body, _, err := Render("text", e)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"Title: Retro\n", "1. a\n2. b\n", "Next meeting: Friday\n"} {
		if !strings.Contains(body, want) {
			t.Fatalf("text missing %q:\n%s", want, body)
		}
	}
	if _, _, err := Render("pdf", e); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
