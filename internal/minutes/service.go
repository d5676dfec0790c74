// Package minutes turns a meeting transcript into structured minutes using a
// language model.
package minutes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/config"
	"github.com/loqalabs/loqa-minutes/internal/llm"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

const systemPrompt = `You are a meeting secretary. Read the transcript and write the minutes as a single JSON object with these keys:
"title" (string), "agenda" (array of strings), "discussion" (string), "decisions" (array of strings),
"action_items" (array of {"task", "assignee", "deadline"}), "next_meeting" (string).
Use speaker names exactly as they appear in the transcript. Leave a key empty when the transcript says nothing about it.
Reply with JSON only.`

// LLMService implements meeting.MinutesService on top of an llm.Generator.
type LLMService struct {
	gen     llm.Generator
	cfg     config.LLMConfig
	timeout time.Duration
	log     *slog.Logger
}

func NewLLMService(gen llm.Generator, cfg config.LLMConfig, timeout time.Duration, log *slog.Logger) *LLMService {
	return &LLMService{
		gen:     gen,
		cfg:     cfg,
		timeout: timeout,
		log:     log.With(slog.String("component", "minutes")),
	}
}

func (s *LLMService) Generate(ctx context.Context, req meeting.MinutesRequest) (meeting.Minutes, error) {
	if len(req.Lines) == 0 {
		return meeting.Minutes{}, meeting.ErrEmptyTranscript
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	llmReq := llm.OptionsFromConfig(s.cfg, "")
	llmReq.SessionID = req.SessionID
	llmReq.System = systemPrompt
	llmReq.Prompt = BuildPrompt(req)
	llmReq.Format = "json"

	start := time.Now()
	text, last, err := llm.Collect(ctx, s.gen, llmReq)
	if err != nil {
		return meeting.Minutes{}, fmt.Errorf("generate minutes: %w", err)
	}
	minutes, err := Parse(text)
	if err != nil {
		return meeting.Minutes{}, err
	}
	s.log.Info("minutes generated",
		slog.String("session_id", req.SessionID),
		slog.Int("lines", len(req.Lines)),
		slog.Int("completion_tokens", last.CompletionTokens),
		slog.Duration("latency", time.Since(start)),
	)
	return minutes, nil
}

// BuildPrompt renders the meeting metadata and transcript for the model. Line
// offsets are relative to the first line.
func BuildPrompt(req meeting.MinutesRequest) string {
	var b strings.Builder
	if req.Info.Title != "" {
		fmt.Fprintf(&b, "Meeting title: %s\n", req.Info.Title)
	}
	if len(req.Info.Participants) > 0 {
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(req.Info.Participants, ", "))
	}
	if len(req.Speakers) > 0 {
		names := make([]string, 0, len(req.Speakers))
		for _, sp := range req.Speakers {
			names = append(names, fmt.Sprintf("%s (%d utterances)", sp.ID, sp.UtteranceCount))
		}
		fmt.Fprintf(&b, "Speakers: %s\n", strings.Join(names, ", "))
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(Transcript(req.Lines))
	return b.String()
}

// Transcript renders lines as "[HH:MM:SS] speaker: text", offsets relative to
// the first line.
func Transcript(lines []meeting.TranscriptLine) string {
	var b strings.Builder
	var origin time.Time
	for i, line := range lines {
		if i == 0 {
			origin = line.CreatedAt
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", clock(line.CreatedAt.Sub(origin)), line.SpeakerID, line.Text)
	}
	return b.String()
}

func clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// document accepts both snake_case and camelCase keys since models do not
// reliably follow the requested casing.
type document struct {
	Title          string               `json:"title"`
	Agenda         []string             `json:"agenda"`
	Discussion     string               `json:"discussion"`
	Decisions      []string             `json:"decisions"`
	ActionItems    []meeting.ActionItem `json:"action_items"`
	ActionItemsAlt []meeting.ActionItem `json:"actionItems"`
	NextMeeting    string               `json:"next_meeting"`
	NextMeetingAlt string               `json:"nextMeeting"`
}

var errEmptyResponse = errors.New("model returned an empty response")

// Parse extracts minutes from model output. Output that is not a JSON object
// becomes the discussion section verbatim.
func Parse(text string) (meeting.Minutes, error) {
	text = strings.TrimSpace(stripFence(text))
	if text == "" {
		return meeting.Minutes{}, errEmptyResponse
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var doc document
		if err := json.Unmarshal([]byte(text[start:end+1]), &doc); err == nil {
			return doc.minutes(), nil
		}
	}
	return meeting.Minutes{Discussion: text}, nil
}

func (d document) minutes() meeting.Minutes {
	m := meeting.Minutes{
		Title:       strings.TrimSpace(d.Title),
		Agenda:      compact(d.Agenda),
		Discussion:  strings.TrimSpace(d.Discussion),
		Decisions:   compact(d.Decisions),
		ActionItems: d.ActionItems,
		NextMeeting: strings.TrimSpace(d.NextMeeting),
	}
	if len(m.ActionItems) == 0 {
		m.ActionItems = d.ActionItemsAlt
	}
	if m.NextMeeting == "" {
		m.NextMeeting = strings.TrimSpace(d.NextMeetingAlt)
	}
	items := m.ActionItems[:0]
	for _, item := range m.ActionItems {
		if strings.TrimSpace(item.Task) != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		items = nil
	}
	m.ActionItems = items
	return m
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(text), "```")
}
