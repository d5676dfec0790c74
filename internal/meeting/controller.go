package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultSilenceThreshold = 2 * time.Second
	MinSilenceThreshold     = 500 * time.Millisecond
	MaxSilenceThreshold     = 10 * time.Second
	DefaultTickInterval     = time.Second

	defaultResubscribeDelay = 250 * time.Millisecond
	defaultDrainTimeout     = 5 * time.Second
)

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	SilenceThreshold time.Duration
	MergeWindow      time.Duration
	TickInterval     time.Duration
	SpeakerPrefix    string
	Palette          []string

	// ResubscribeDelay is the pause before retrying a failed Subscribe call.
	// Streams that end normally are resubscribed immediately.
	ResubscribeDelay time.Duration

	// DrainTimeout bounds how long Stop waits for capture and recognition
	// goroutines to exit.
	DrainTimeout time.Duration

	// ManualMinutes disables minutes generation on Stop. Minutes are then
	// only produced by Summarize.
	ManualMinutes bool

	Minutes  MinutesService
	Encoder  AudioEncoder
	Archiver Archiver
	Notifier Notifier
	Logger   *slog.Logger
	Clock    func() time.Time
	NewID    func() string
}

// Controller is the single owner of meeting session state. Every mutation is
// serialized through mu; background goroutines re-check that their session is
// still current before touching it.
type Controller struct {
	capture    AudioCapture
	recognizer RecognitionStream
	minutes    MinutesService
	encoder    AudioEncoder
	archiver   Archiver
	notifier   Notifier
	logger     *slog.Logger
	clock      func() time.Time
	newID      func() string
	tracer     trace.Tracer
	metrics    *metrics
	opts       Options

	mu        sync.Mutex
	session   *session
	threshold time.Duration
	starting  bool
}

func NewController(capture AudioCapture, recognizer RecognitionStream, opts Options) *Controller {
	if opts.SilenceThreshold <= 0 {
		opts.SilenceThreshold = DefaultSilenceThreshold
	}
	if opts.MergeWindow <= 0 {
		opts.MergeWindow = DefaultMergeWindow
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.ResubscribeDelay <= 0 {
		opts.ResubscribeDelay = defaultResubscribeDelay
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Encoder == nil {
		opts.Encoder = rawEncoder{}
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}

	c := &Controller{
		capture:    capture,
		recognizer: recognizer,
		minutes:    opts.Minutes,
		encoder:    opts.Encoder,
		archiver:   opts.Archiver,
		notifier:   opts.Notifier,
		logger:     opts.Logger.With(slog.String("component", "meeting")),
		clock:      opts.Clock,
		newID:      opts.NewID,
		tracer:     otel.Tracer("github.com/loqalabs/loqa-minutes/meeting"),
		opts:       opts,
		threshold:  clampThreshold(opts.SilenceThreshold),
	}
	c.session = newSession(c.newID(), opts)
	c.metrics = newMetrics(c)
	c.notifier.StateChanged(c.session.id, StateIdle, ReasonCreated, 0)
	return c
}

// Start acquires the capture device and begins recording. A stopped session is
// replaced by a fresh one only once the device has been acquired.
func (c *Controller) Start(ctx context.Context, info MeetingInfo) error {
	c.mu.Lock()
	if st := c.session.state; c.starting || st == StateRecording || st == StatePaused {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.starting = true
	c.mu.Unlock()

	// Acquire may block on a device or a permission prompt; status and the
	// other transitions stay available meanwhile.
	stream, err := c.capture.Acquire(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		if !isContextErr(err) && !errors.Is(err, ErrPermissionDenied) {
			err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		c.logger.Warn("audio capture unavailable", slogError(err))
		return err
	}

	s := c.session
	if s.state != StateIdle {
		s = newSession(c.newID(), c.opts)
		c.session = s
	}
	now := c.clock()
	s.info = normalizeInfo(info)
	s.state = StateRecording
	s.startedAt = now
	s.resumedAt = now
	s.stream = stream
	s.format = stream.Format()

	s.pumpDone = make(chan struct{})
	go c.pumpAudio(s, stream, s.pumpDone)
	s.recognition = c.superviseRecognition(s)

	timerCtx, cancel := context.WithCancel(context.Background())
	s.stopTimer = cancel
	go c.runTimer(timerCtx, s)

	c.notifier.StateChanged(s.id, StateRecording, ReasonStarted, 0)
	c.logger.Info("recording started",
		slog.String("session_id", s.id),
		slog.String("title", s.info.Title),
		slog.Int("sample_rate", s.format.SampleRate),
	)
	return nil
}

// Pause suspends capture and recognition. It reports whether the state changed.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s.state != StateRecording {
		return false
	}
	s.frozen = s.elapsed(c.clock())
	s.state = StatePaused
	if s.recognition != nil {
		s.recognition.cancel()
		s.recognition = nil
	}
	s.buffer.Reset()
	if err := s.stream.Pause(); err != nil {
		c.logger.Warn("pause audio capture", slog.String("session_id", s.id), slogError(err))
	}
	c.notifier.StateChanged(s.id, StatePaused, ReasonPaused, s.frozen)
	c.logger.Info("recording paused", slog.String("session_id", s.id), slog.Duration("elapsed", s.frozen))
	return true
}

// Resume continues a paused session. It reports whether the state changed.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s.state != StatePaused {
		return false
	}
	s.state = StateRecording
	s.resumedAt = c.clock()
	if err := s.stream.Resume(); err != nil {
		c.logger.Warn("resume audio capture", slog.String("session_id", s.id), slogError(err))
	}
	s.recognition = c.superviseRecognition(s)
	c.notifier.StateChanged(s.id, StateRecording, ReasonResumed, s.frozen)
	c.logger.Info("recording resumed", slog.String("session_id", s.id))
	return true
}

// Stop ends the session, finalizes the audio and requests minutes. It returns
// a nil result when there was nothing to stop. When minutes generation fails
// the result is still returned alongside an error wrapping ErrMinutesFailed.
func (c *Controller) Stop(ctx context.Context) (*StopResult, error) {
	c.mu.Lock()
	s := c.session
	if s.state != StateRecording && s.state != StatePaused {
		c.mu.Unlock()
		return nil, nil
	}
	now := c.clock()
	s.frozen = s.elapsed(now)
	s.state = StateStopped
	s.stoppedAt = now
	sup := s.recognition
	s.recognition = nil
	if sup != nil {
		sup.cancel()
	}
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
	s.buffer.Reset()
	stream := s.stream
	s.stream = nil
	c.notifier.StateChanged(s.id, StateStopped, ReasonStopped, s.frozen)
	c.mu.Unlock()

	if err := stream.Release(); err != nil {
		c.logger.Warn("release audio capture", slog.String("session_id", s.id), slogError(err))
	}
	c.await(s.pumpDone, "audio pump", s.id)
	if sup != nil {
		c.await(sup.done, "recognition", s.id)
	}

	c.mu.Lock()
	pcm, format := s.pcm, s.format
	c.mu.Unlock()

	blob, err := c.encoder.Encode(s.id, pcm, format)
	if err != nil {
		c.logger.Warn("encode recording", slog.String("session_id", s.id), slogError(err))
		blob, _ = rawEncoder{}.Encode(s.id, pcm, format)
	}

	c.mu.Lock()
	s.audio = &blob
	s.pcm = nil
	result := &StopResult{
		SessionID: s.id,
		Elapsed:   s.frozen,
		ElapsedMS: s.frozen.Milliseconds(),
		Audio:     s.audio,
		Lines:     s.log.Lines(),
		Speakers:  s.registry.Snapshot(),
	}
	req := s.minutesRequest()
	c.mu.Unlock()

	c.logger.Info("recording stopped",
		slog.String("session_id", s.id),
		slog.Duration("elapsed", result.Elapsed),
		slog.Int("lines", len(result.Lines)),
		slog.Int("speakers", len(result.Speakers)),
	)

	var minutesErr error
	if c.minutes != nil && !c.opts.ManualMinutes {
		minutes, err := c.generateMinutes(ctx, s, req)
		if err != nil {
			minutesErr = err
		} else {
			result.Minutes = &minutes
		}
	}
	c.archive(ctx, s)
	return result, minutesErr
}

// Summarize requests minutes for the current transcript without stopping.
func (c *Controller) Summarize(ctx context.Context) (Minutes, error) {
	if c.minutes == nil {
		return Minutes{}, ErrNoMinutesService
	}
	c.mu.Lock()
	s := c.session
	req := s.minutesRequest()
	stopped := s.state == StateStopped
	c.mu.Unlock()

	if len(req.Lines) == 0 {
		return Minutes{}, ErrEmptyTranscript
	}
	minutes, err := c.generateMinutes(ctx, s, req)
	if err != nil {
		return Minutes{}, err
	}
	if stopped {
		c.archive(ctx, s)
	}
	return minutes, nil
}

// SwitchSpeaker forces a new speaker. It is a no-op once the session is stopped.
func (c *Controller) SwitchSpeaker() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s.state == StateStopped {
		return "", false
	}
	id := s.engine.Switch(c.clock())
	if sp, ok := s.registry.Get(id); ok {
		c.notifier.SpeakerUpdated(s.id, sp)
	}
	c.metrics.speakerAdded("manual")
	c.logger.Debug("speaker switched", slog.String("session_id", s.id), slog.String("speaker", id))
	return id, true
}

// RenameSpeaker re-keys a speaker in the registry and every transcript line.
// Blank or unchanged names are ignored.
func (c *Controller) RenameSpeaker(oldID, newID string) error {
	newID = strings.TrimSpace(newID)
	if newID == "" || newID == oldID {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if err := s.registry.Rename(oldID, newID); err != nil {
		return err
	}
	lines := s.log.Rename(oldID, newID)
	s.engine.renamed(oldID, newID)
	c.notifier.SpeakerRenamed(s.id, oldID, newID)
	c.logger.Info("speaker renamed",
		slog.String("session_id", s.id),
		slog.String("from", oldID),
		slog.String("to", newID),
		slog.Int("lines", lines),
	)
	return nil
}

// SetSilenceThreshold clamps d to the supported range, applies it to later
// utterances and returns the applied value.
func (c *Controller) SetSilenceThreshold(d time.Duration) time.Duration {
	d = clampThreshold(d)
	c.mu.Lock()
	c.threshold = d
	c.mu.Unlock()
	return d
}

func (c *Controller) SilenceThreshold() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	elapsed := s.elapsed(c.clock())
	return Status{
		SessionID:      s.id,
		State:          s.state,
		StartedAt:      s.startedAt,
		Elapsed:        elapsed,
		ElapsedMS:      elapsed.Milliseconds(),
		CurrentSpeaker: s.engine.Current(),
		Lines:          s.log.Len(),
		Speakers:       s.registry.Len(),
		Interim:        s.buffer.Display(),
	}
}

func (c *Controller) CurrentTranscript() []TranscriptLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.log.Lines()
}

func (c *Controller) SpeakerRegistrySnapshot() []Speaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.registry.Snapshot()
}

func (c *Controller) InterimText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.buffer.Display()
}

// Snapshot returns the current session in archive form, including the latest
// minutes if any were generated.
func (c *Controller) Snapshot() SessionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.session.record()
	rec.Elapsed = c.session.elapsed(c.clock())
	return rec
}

func (c *Controller) generateMinutes(ctx context.Context, s *session, req MinutesRequest) (Minutes, error) {
	ctx, span := c.tracer.Start(ctx, "meeting.minutes",
		trace.WithAttributes(
			attribute.String("meeting.session_id", req.SessionID),
			attribute.Int("meeting.lines", len(req.Lines)),
			attribute.Int("meeting.speakers", len(req.Speakers)),
		),
	)
	defer span.End()

	minutes, err := c.minutes.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.minutesFailed()
		c.logger.Warn("minutes generation failed", slog.String("session_id", req.SessionID), slogError(err))
		return Minutes{}, fmt.Errorf("%w: %w", ErrMinutesFailed, err)
	}
	if minutes.Title == "" {
		minutes.Title = req.Info.Title
	}

	c.mu.Lock()
	s.minutes = &minutes
	c.mu.Unlock()
	return minutes, nil
}

func (c *Controller) archive(ctx context.Context, s *session) {
	if c.archiver == nil {
		return
	}
	c.mu.Lock()
	record := s.record()
	c.mu.Unlock()
	if err := c.archiver.Archive(ctx, record); err != nil {
		c.logger.Warn("archive session", slog.String("session_id", record.SessionID), slogError(err))
	}
}

func (c *Controller) await(done <-chan struct{}, what, sessionID string) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(c.opts.DrainTimeout):
		c.logger.Warn("timed out waiting for goroutine",
			slog.String("session_id", sessionID),
			slog.String("goroutine", what),
		)
	}
}

func (c *Controller) pumpAudio(s *session, stream AudioStream, done chan struct{}) {
	defer close(done)
	// Chunks still queued when the session stops belong to the recording.
	for chunk := range stream.Chunks() {
		c.mu.Lock()
		s.pcm = append(s.pcm, chunk...)
		c.mu.Unlock()
	}
}

func clampThreshold(d time.Duration) time.Duration {
	switch {
	case d < MinSilenceThreshold:
		return MinSilenceThreshold
	case d > MaxSilenceThreshold:
		return MaxSilenceThreshold
	}
	return d
}

func normalizeInfo(info MeetingInfo) MeetingInfo {
	info.Title = strings.TrimSpace(info.Title)
	participants := info.Participants[:0:0]
	for _, p := range info.Participants {
		if p = strings.TrimSpace(p); p != "" {
			participants = append(participants, p)
		}
	}
	info.Participants = participants
	return info
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
