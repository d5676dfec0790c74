package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/audio"
	"github.com/loqalabs/loqa-minutes/internal/eventstore"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
	"github.com/loqalabs/loqa-minutes/internal/minutes"
)

// meetingController is the part of meeting.Controller exposed over HTTP.
type meetingController interface {
	Start(ctx context.Context, info meeting.MeetingInfo) error
	Pause() bool
	Resume() bool
	Stop(ctx context.Context) (*meeting.StopResult, error)
	Summarize(ctx context.Context) (meeting.Minutes, error)
	SwitchSpeaker() (string, bool)
	RenameSpeaker(oldID, newID string) error
	SetSilenceThreshold(d time.Duration) time.Duration
	SilenceThreshold() time.Duration
	Status() meeting.Status
	CurrentTranscript() []meeting.TranscriptLine
	SpeakerRegistrySnapshot() []meeting.Speaker
	Snapshot() meeting.SessionRecord
}

// sessionArchive is the read side of the event store.
type sessionArchive interface {
	ListSessions(ctx context.Context, limit int) ([]eventstore.SessionSummary, error)
	LoadSession(ctx context.Context, sessionID string) (meeting.SessionRecord, error)
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
}

// recordingImporter turns an uploaded recording into an archived session.
type recordingImporter interface {
	Import(ctx context.Context, r io.ReadSeeker, info meeting.MeetingInfo) (meeting.SessionRecord, error)
}

// maxImportBytes caps uploaded recordings; about 2h20m of 16 kHz mono PCM.
const maxImportBytes = 256 << 20

type api struct {
	ctrl     meetingController
	archive  sessionArchive
	importer recordingImporter
	log      *slog.Logger
}

func newAPI(ctrl meetingController, archive sessionArchive, importer recordingImporter, log *slog.Logger) *api {
	return &api{ctrl: ctrl, archive: archive, importer: importer, log: log.With(slog.String("component", "api"))}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/meeting/start", a.handleStart)
	mux.HandleFunc("POST /v1/meeting/pause", a.handlePause)
	mux.HandleFunc("POST /v1/meeting/resume", a.handleResume)
	mux.HandleFunc("POST /v1/meeting/stop", a.handleStop)
	mux.HandleFunc("POST /v1/meeting/summarize", a.handleSummarize)
	mux.HandleFunc("GET /v1/meeting/status", a.handleStatus)
	mux.HandleFunc("GET /v1/meeting/transcript", a.handleTranscript)
	mux.HandleFunc("GET /v1/meeting/speakers", a.handleSpeakers)
	mux.HandleFunc("POST /v1/meeting/speakers/switch", a.handleSwitch)
	mux.HandleFunc("POST /v1/meeting/speakers/rename", a.handleRename)
	mux.HandleFunc("GET /v1/meeting/silence-threshold", a.handleGetThreshold)
	mux.HandleFunc("PUT /v1/meeting/silence-threshold", a.handleSetThreshold)
	mux.HandleFunc("GET /v1/meeting/minutes", a.handleMinutes)
	mux.HandleFunc("GET /v1/sessions", a.handleListSessions)
	mux.HandleFunc("POST /v1/sessions/import", a.handleImport)
	mux.HandleFunc("GET /v1/sessions/{id}", a.handleGetSession)
	mux.HandleFunc("GET /v1/sessions/{id}/events", a.handleSessionEvents)
	mux.HandleFunc("GET /v1/sessions/{id}/minutes", a.handleSessionMinutes)
}

type startRequest struct {
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
}

type transitionResponse struct {
	Changed bool           `json:"changed"`
	Status  meeting.Status `json:"status"`
}

type stopResponse struct {
	Stopped      bool                `json:"stopped"`
	Result       *meeting.StopResult `json:"result,omitempty"`
	MinutesError string              `json:"minutes_error,omitempty"`
}

type renameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type thresholdBody struct {
	ThresholdMS int64 `json:"threshold_ms"`
}

func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := a.ctrl.Start(r.Context(), meeting.MeetingInfo{Title: req.Title, Participants: req.Participants})
	switch {
	case errors.Is(err, meeting.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, meeting.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case err != nil:
		a.log.Error("start failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, a.ctrl.Status())
	}
}

func (a *api) handlePause(w http.ResponseWriter, _ *http.Request) {
	changed := a.ctrl.Pause()
	writeJSON(w, http.StatusOK, transitionResponse{Changed: changed, Status: a.ctrl.Status()})
}

func (a *api) handleResume(w http.ResponseWriter, _ *http.Request) {
	changed := a.ctrl.Resume()
	writeJSON(w, http.StatusOK, transitionResponse{Changed: changed, Status: a.ctrl.Status()})
}

// handleStop reports minutes failures in the body; the recording itself was
// stopped and archived either way.
func (a *api) handleStop(w http.ResponseWriter, r *http.Request) {
	result, err := a.ctrl.Stop(r.Context())
	resp := stopResponse{Stopped: result != nil, Result: result}
	if err != nil {
		resp.MinutesError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleSummarize(w http.ResponseWriter, r *http.Request) {
	m, err := a.ctrl.Summarize(r.Context())
	switch {
	case errors.Is(err, meeting.ErrNoMinutesService):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, meeting.ErrEmptyTranscript):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, m)
	}
}

func (a *api) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Status())
}

func (a *api) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(a.ctrl.CurrentTranscript()))
}

func (a *api) handleSpeakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(a.ctrl.SpeakerRegistrySnapshot()))
}

func (a *api) handleSwitch(w http.ResponseWriter, _ *http.Request) {
	id, ok := a.ctrl.SwitchSpeaker()
	if !ok {
		writeError(w, http.StatusConflict, "session is stopped")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"speaker_id": id})
}

func (a *api) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := a.ctrl.RenameSpeaker(req.From, req.To)
	switch {
	case errors.Is(err, meeting.ErrUnknownSpeaker):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, meeting.ErrSpeakerExists):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, nonNil(a.ctrl.SpeakerRegistrySnapshot()))
	}
}

func (a *api) handleGetThreshold(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, thresholdBody{ThresholdMS: a.ctrl.SilenceThreshold().Milliseconds()})
}

func (a *api) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var body thresholdBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	applied := a.ctrl.SetSilenceThreshold(time.Duration(body.ThresholdMS) * time.Millisecond)
	writeJSON(w, http.StatusOK, thresholdBody{ThresholdMS: applied.Milliseconds()})
}

func (a *api) handleMinutes(w http.ResponseWriter, r *http.Request) {
	a.renderMinutes(w, r, a.ctrl.Snapshot())
}

func (a *api) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := a.archive.ListSessions(r.Context(), limit)
	if err != nil {
		a.log.Error("list sessions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "list sessions failed")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sessions))
}

type sessionResponse struct {
	SessionID string                   `json:"session_id"`
	Info      meeting.MeetingInfo      `json:"info"`
	StartedAt time.Time                `json:"started_at"`
	StoppedAt time.Time                `json:"stopped_at"`
	ElapsedMS int64                    `json:"elapsed_ms"`
	Audio     *meeting.AudioBlob       `json:"audio,omitempty"`
	Lines     []meeting.TranscriptLine `json:"lines"`
	Speakers  []meeting.Speaker        `json:"speakers"`
	Minutes   *meeting.Minutes         `json:"minutes,omitempty"`
}

func (a *api) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(rec))
}

func newSessionResponse(rec meeting.SessionRecord) sessionResponse {
	return sessionResponse{
		SessionID: rec.SessionID,
		Info:      rec.Info,
		StartedAt: rec.StartedAt,
		StoppedAt: rec.StoppedAt,
		ElapsedMS: rec.Elapsed.Milliseconds(),
		Audio:     rec.Audio,
		Lines:     nonNil(rec.Lines),
		Speakers:  nonNil(rec.Speakers),
		Minutes:   rec.Minutes,
	}
}

type importResponse struct {
	Session      sessionResponse `json:"session"`
	MinutesError string          `json:"minutes_error,omitempty"`
}

// handleImport accepts a WAV body. Meeting metadata comes from the title and
// participant query parameters.
func (a *api) handleImport(w http.ResponseWriter, r *http.Request) {
	if a.importer == nil {
		writeError(w, http.StatusNotImplemented, "recording import not configured")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "recording too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read recording failed")
		return
	}
	query := r.URL.Query()
	info := meeting.MeetingInfo{Title: query.Get("title"), Participants: query["participant"]}

	rec, err := a.importer.Import(r.Context(), bytes.NewReader(data), info)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, importResponse{Session: newSessionResponse(rec)})
	case errors.Is(err, meeting.ErrMinutesFailed):
		writeJSON(w, http.StatusOK, importResponse{Session: newSessionResponse(rec), MinutesError: err.Error()})
	case errors.Is(err, audio.ErrUnsupportedAudio):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, meeting.ErrEmptyTranscript):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		a.log.Error("import failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type eventResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (a *api) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := a.archive.ListSessionEvents(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.log.Error("list events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "list events failed")
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{ID: e.ID, Type: e.Type, Payload: e.Payload, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleSessionMinutes(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	a.renderMinutes(w, r, rec)
}

func (a *api) loadSession(w http.ResponseWriter, r *http.Request) (meeting.SessionRecord, bool) {
	rec, err := a.archive.LoadSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, eventstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return rec, false
	}
	if err != nil {
		a.log.Error("load session failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "load session failed")
		return rec, false
	}
	return rec, true
}

// renderMinutes writes the minutes of rec as JSON, Markdown or plain text
// depending on the format query parameter.
func (a *api) renderMinutes(w http.ResponseWriter, r *http.Request, rec meeting.SessionRecord) {
	if rec.Minutes == nil {
		writeError(w, http.StatusNotFound, "no minutes for session")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" || format == "json" {
		writeJSON(w, http.StatusOK, rec.Minutes)
		return
	}
	body, contentType, err := minutes.Render(format, minutes.Export{
		Minutes:   *rec.Minutes,
		Info:      rec.Info,
		StartedAt: rec.StartedAt,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
