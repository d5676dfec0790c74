// Package mcpserver exposes the live meeting and the session archive as
// Model Context Protocol tools, so assistants can read transcripts and
// minutes without going through the REST API.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loqalabs/loqa-minutes/internal/eventstore"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
	"github.com/loqalabs/loqa-minutes/internal/minutes"
)

// Meeting is the part of the controller the tools use.
type Meeting interface {
	Status() meeting.Status
	CurrentTranscript() []meeting.TranscriptLine
	RenameSpeaker(oldID, newID string) error
	Snapshot() meeting.SessionRecord
}

// Archive is the read side of the event store.
type Archive interface {
	ListSessions(ctx context.Context, limit int) ([]eventstore.SessionSummary, error)
	LoadSession(ctx context.Context, sessionID string) (meeting.SessionRecord, error)
}

type tools struct {
	meeting Meeting
	archive Archive
	log     *slog.Logger
}

// New builds an MCP server with the meeting tools registered.
func New(m Meeting, archive Archive, version string, log *slog.Logger) *server.MCPServer {
	t := &tools{meeting: m, archive: archive, log: log.With(slog.String("component", "mcp"))}
	s := server.NewMCPServer("loqa-minutes", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("meeting_status",
		mcp.WithDescription("State, elapsed time and current speaker of the live meeting"),
	), t.status)
	s.AddTool(mcp.NewTool("live_transcript",
		mcp.WithDescription("Committed transcript of the live meeting, one line per utterance"),
	), t.liveTranscript)
	s.AddTool(mcp.NewTool("rename_speaker",
		mcp.WithDescription("Rename a speaker across the live transcript"),
		mcp.WithString("from", mcp.Required(), mcp.Description("Current speaker id, e.g. speaker-2")),
		mcp.WithString("to", mcp.Required(), mcp.Description("New speaker name")),
	), t.renameSpeaker)
	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("Archived meetings, newest first"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 20)")),
	), t.listSessions)
	s.AddTool(mcp.NewTool("session_transcript",
		mcp.WithDescription("Transcript of an archived meeting"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Archived session id")),
	), t.sessionTranscript)
	s.AddTool(mcp.NewTool("meeting_minutes",
		mcp.WithDescription("Minutes of the live meeting or of an archived session"),
		mcp.WithString("session_id", mcp.Description("Archived session id; omit for the live meeting")),
		mcp.WithString("format", mcp.Description("markdown (default), text or json"), mcp.Enum("markdown", "text", "json")),
	), t.meetingMinutes)
	return s
}

// Handler serves the tools over the streamable HTTP transport.
func Handler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s)
}

func (t *tools) status(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.meeting.Status())
}

func (t *tools) liveTranscript(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lines := t.meeting.CurrentTranscript()
	if len(lines) == 0 {
		return mcp.NewToolResultText("No transcript yet."), nil
	}
	return mcp.NewToolResultText(minutes.Transcript(lines)), nil
}

func (t *tools) renameSpeaker(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.meeting.RenameSpeaker(from, to); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Renamed %s to %s.", from, to)), nil
}

func (t *tools) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := t.archive.ListSessions(ctx, req.GetInt("limit", 20))
	if err != nil {
		t.log.Error("list sessions failed", slog.String("error", err.Error()))
		return nil, err
	}
	if sessions == nil {
		sessions = []eventstore.SessionSummary{}
	}
	return jsonResult(sessions)
}

func (t *tools) sessionTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, res, err := t.load(ctx, req)
	if res != nil || err != nil {
		return res, err
	}
	if len(rec.Lines) == 0 {
		return mcp.NewToolResultText("Session has no transcript."), nil
	}
	return mcp.NewToolResultText(minutes.Transcript(rec.Lines)), nil
}

func (t *tools) meetingMinutes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec := t.meeting.Snapshot()
	if req.GetString("session_id", "") != "" {
		var res *mcp.CallToolResult
		var err error
		rec, res, err = t.load(ctx, req)
		if res != nil || err != nil {
			return res, err
		}
	}
	if rec.Minutes == nil {
		return mcp.NewToolResultError("no minutes for session"), nil
	}
	format := req.GetString("format", "markdown")
	if format == "json" {
		return jsonResult(rec.Minutes)
	}
	body, _, err := minutes.Render(format, minutes.Export{Minutes: *rec.Minutes, Info: rec.Info, StartedAt: rec.StartedAt})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(body), nil
}

// load resolves the session_id argument. Unknown sessions are reported as a
// tool error rather than a protocol error.
func (t *tools) load(ctx context.Context, req mcp.CallToolRequest) (meeting.SessionRecord, *mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return meeting.SessionRecord{}, mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := t.archive.LoadSession(ctx, id)
	if errors.Is(err, eventstore.ErrNotFound) {
		return rec, mcp.NewToolResultError(fmt.Sprintf("session %s not found", id)), nil
	}
	if err != nil {
		t.log.Error("load session failed", slog.String("session_id", id), slog.String("error", err.Error()))
		return rec, nil, err
	}
	return rec, nil, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
