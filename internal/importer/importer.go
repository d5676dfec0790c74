package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-minutes/internal/audio"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
	"github.com/loqalabs/loqa-minutes/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultChunk       = 100 * time.Millisecond
	defaultSilenceRMS  = 500
	defaultSilenceHold = 700 * time.Millisecond
)

// Options configures an Importer. Zero values fall back to the live defaults.
type Options struct {
	SilenceRMS       float64
	SilenceHold      time.Duration
	Chunk            time.Duration
	SilenceThreshold time.Duration
	MergeWindow      time.Duration
	SpeakerPrefix    string
	Palette          []string

	Minutes  meeting.MinutesService
	Encoder  meeting.AudioEncoder
	Archiver meeting.Archiver
	Logger   *slog.Logger
	Clock    func() time.Time
	NewID    func() string
}

// Importer turns a finished recording into an archived, stopped session. The
// file is split into utterances by the same energy gate the live path uses and
// attributed with the same silence rules.
type Importer struct {
	recognizer stt.Recognizer
	opts       Options
	log        *slog.Logger
}

func New(recognizer stt.Recognizer, opts Options) *Importer {
	if opts.SilenceRMS <= 0 {
		opts.SilenceRMS = defaultSilenceRMS
	}
	if opts.SilenceHold <= 0 {
		opts.SilenceHold = defaultSilenceHold
	}
	if opts.Chunk <= 0 {
		opts.Chunk = defaultChunk
	}
	switch {
	case opts.SilenceThreshold <= 0:
		opts.SilenceThreshold = meeting.DefaultSilenceThreshold
	case opts.SilenceThreshold < meeting.MinSilenceThreshold:
		opts.SilenceThreshold = meeting.MinSilenceThreshold
	case opts.SilenceThreshold > meeting.MaxSilenceThreshold:
		opts.SilenceThreshold = meeting.MaxSilenceThreshold
	}
	if opts.MergeWindow <= 0 {
		opts.MergeWindow = meeting.DefaultMergeWindow
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
	return &Importer{
		recognizer: recognizer,
		opts:       opts,
		log:        opts.Logger.With(slog.String("component", "importer")),
	}
}

// Import transcribes a WAV recording and archives it as a stopped session.
// When only minutes generation fails the record is still archived and
// returned alongside an error wrapping meeting.ErrMinutesFailed.
func (im *Importer) Import(ctx context.Context, r io.ReadSeeker, info meeting.MeetingInfo) (meeting.SessionRecord, error) {
	ctx, span := otel.Tracer("github.com/loqalabs/loqa-minutes/importer").Start(ctx, "meeting.import")
	defer span.End()

	pcm, format, err := audio.ReadWAV(r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return meeting.SessionRecord{}, err
	}

	rec := meeting.SessionRecord{
		SessionID: im.opts.NewID(),
		Info:      normalizeInfo(info),
		StartedAt: im.opts.Clock(),
	}
	span.SetAttributes(attribute.String("meeting.session_id", rec.SessionID))

	registry := meeting.NewRegistry(im.opts.SpeakerPrefix, im.opts.Palette)
	engine := meeting.NewEngine(registry)
	transcript := meeting.NewLog(im.opts.MergeWindow)

	utterances := audio.NewSegmenter(im.opts.SilenceRMS, im.opts.SilenceHold, format).Split(pcm, im.opts.Chunk)
	var lastErr error
	failed := 0
	for _, u := range utterances {
		result, err := im.recognizer.Transcribe(ctx, u.PCM, format.SampleRate, format.Channels, true)
		if err != nil {
			if ctx.Err() != nil {
				return meeting.SessionRecord{}, ctx.Err()
			}
			failed++
			lastErr = err
			im.log.Warn("transcribe utterance",
				slog.String("session_id", rec.SessionID),
				slog.Duration("offset", u.Start),
				slog.String("error", err.Error()),
			)
			continue
		}
		at := rec.StartedAt.Add(u.End)
		speaker, _ := engine.Attribute(at, im.opts.SilenceThreshold)
		transcript.Add(speaker, result.Text, at)
	}
	if failed > 0 && failed == len(utterances) {
		return meeting.SessionRecord{}, fmt.Errorf("transcribe recording: %w", lastErr)
	}

	rec.Lines = transcript.Lines()
	if len(rec.Lines) == 0 {
		return meeting.SessionRecord{}, meeting.ErrEmptyTranscript
	}
	rec.Speakers = registry.Snapshot()
	rec.Elapsed = pcmDuration(len(pcm), format)
	rec.StoppedAt = rec.StartedAt.Add(rec.Elapsed)

	if im.opts.Encoder != nil {
		blob, err := im.opts.Encoder.Encode(rec.SessionID, pcm, format)
		if err != nil {
			im.log.Warn("encode imported recording", slog.String("session_id", rec.SessionID), slog.String("error", err.Error()))
		} else {
			rec.Audio = &blob
		}
	}

	var minutesErr error
	if im.opts.Minutes != nil {
		minutes, err := im.opts.Minutes.Generate(ctx, meeting.MinutesRequest{
			SessionID: rec.SessionID,
			Info:      rec.Info,
			Audio:     rec.Audio,
			Lines:     rec.Lines,
			Speakers:  rec.Speakers,
		})
		if err != nil {
			span.RecordError(err)
			im.log.Warn("minutes generation failed", slog.String("session_id", rec.SessionID), slog.String("error", err.Error()))
			minutesErr = fmt.Errorf("%w: %w", meeting.ErrMinutesFailed, err)
		} else {
			if minutes.Title == "" {
				minutes.Title = rec.Info.Title
			}
			rec.Minutes = &minutes
		}
	}

	if im.opts.Archiver != nil {
		if err := im.opts.Archiver.Archive(ctx, rec); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return meeting.SessionRecord{}, fmt.Errorf("archive imported session: %w", err)
		}
	}

	im.log.Info("recording imported",
		slog.String("session_id", rec.SessionID),
		slog.Duration("duration", rec.Elapsed),
		slog.Int("utterances", len(utterances)),
		slog.Int("lines", len(rec.Lines)),
		slog.Int("speakers", len(rec.Speakers)),
	)
	return rec, minutesErr
}

func normalizeInfo(info meeting.MeetingInfo) meeting.MeetingInfo {
	info.Title = strings.TrimSpace(info.Title)
	var participants []string
	for _, p := range info.Participants {
		if p = strings.TrimSpace(p); p != "" {
			participants = append(participants, p)
		}
	}
	info.Participants = participants
	return info
}

func pcmDuration(n int, format meeting.AudioFormat) time.Duration {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return 0
	}
	frames := n / 2 / format.Channels
	return time.Duration(frames) * time.Second / time.Duration(format.SampleRate)
}
