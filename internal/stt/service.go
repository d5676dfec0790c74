package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/bus"
	"github.com/loqalabs/loqa-minutes/internal/config"
	"github.com/loqalabs/loqa-minutes/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const transcribeTimeout = 45 * time.Second

// Service turns audio frames from the bus into partial and final transcripts.
// Each source accumulates PCM until a Final frame closes the utterance. At most
// one recognizer call per source runs at a time; a final that arrives while a
// call is running is deferred until it returns.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	recognizer Recognizer
	log        *slog.Logger
	tracer     trace.Tracer
	latency    metric.Float64Histogram

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	sources map[string]*source
	sub     *nats.Subscription
	ready   bool
}

// source is the per-source utterance buffer. Guarded by Service.mu.
type source struct {
	id           string
	pcm          []byte
	utterance    int
	lastPartial  time.Time
	busy         bool
	pendingFinal bool
}

// job is one recognizer call over a snapshot of a source's buffer.
type job struct {
	sourceID  string
	utterance int
	pcm       []byte
	final     bool
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	latency, _ := otel.Meter("github.com/loqalabs/loqa-minutes/stt").Float64Histogram(
		"stt.transcribe.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Recognizer call duration"),
	)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		log:        log.With(slog.String("component", "stt")),
		tracer:     otel.Tracer("github.com/loqalabs/loqa-minutes/stt"),
		latency:    latency,
		sources:    make(map[string]*source),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to every source's audio frames. A disabled service starts
// nothing and reports healthy.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.ready = true
	s.mu.Unlock()
	s.log.Info("stt service subscribed", slog.String("subject", subject))
	return nil
}

// Close stops accepting frames and waits for running recognizer calls.
func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	sub := s.sub
	s.ready = false
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slogError(err))
		return
	}

	s.mu.Lock()
	src := s.sources[frame.SourceID]
	if src == nil {
		src = &source{id: frame.SourceID}
		s.sources[frame.SourceID] = src
	}
	src.pcm = append(src.pcm, frame.PCM...)
	var next *job
	if frame.Final {
		next = src.takeFinal()
	} else if s.cfg.PublishInterim {
		next = src.takePartial(time.Now(), time.Duration(s.cfg.PartialEveryMS)*time.Millisecond)
	}
	s.mu.Unlock()

	if next != nil {
		s.run(*next)
	}
}

// takeFinal closes the current utterance. When a call is running the final is
// deferred and nil is returned.
func (src *source) takeFinal() *job {
	if src.busy {
		src.pendingFinal = true
		return nil
	}
	j := job{sourceID: src.id, utterance: src.utterance, pcm: src.pcm, final: true}
	src.pcm = nil
	src.utterance++
	src.lastPartial = time.Time{}
	if len(j.pcm) == 0 {
		return nil
	}
	src.busy = true
	return &j
}

// takePartial snapshots the open utterance when the partial interval has
// elapsed. The first partial of an utterance is taken immediately.
func (src *source) takePartial(now time.Time, every time.Duration) *job {
	if src.busy || len(src.pcm) == 0 {
		return nil
	}
	if !src.lastPartial.IsZero() && (every <= 0 || now.Sub(src.lastPartial) < every) {
		return nil
	}
	src.lastPartial = now
	src.busy = true
	return &job{sourceID: src.id, utterance: src.utterance, pcm: append([]byte(nil), src.pcm...)}
}

// finish releases the source after a call and returns a deferred final, if any.
func (src *source) finish(j job, now time.Time) *job {
	src.busy = false
	if !j.final {
		src.lastPartial = now
	}
	if !src.pendingFinal {
		return nil
	}
	src.pendingFinal = false
	return src.takeFinal()
}

func (s *Service) run(j job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.transcribe(j)

		s.mu.Lock()
		var next *job
		if src := s.sources[j.sourceID]; src != nil {
			next = src.finish(j, time.Now())
		}
		s.mu.Unlock()

		if next != nil && s.ctx.Err() == nil {
			s.run(*next)
		}
	}()
}

func (s *Service) transcribe(j job) {
	ctx, cancel := context.WithTimeout(s.ctx, transcribeTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "stt.transcribe", trace.WithAttributes(
		attribute.String("source_id", j.sourceID),
		attribute.Int("utterance", j.utterance),
		attribute.Bool("final", j.final),
		attribute.Int("pcm_bytes", len(j.pcm)),
	))
	defer span.End()

	started := time.Now()
	result, err := s.recognizer.Transcribe(ctx, j.pcm, s.cfg.SampleRate, s.cfg.Channels, j.final)
	if s.latency != nil {
		s.latency.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(attribute.Bool("final", j.final)))
	}
	if err != nil {
		span.RecordError(err)
		s.log.Warn("stt transcription failed", slog.String("source_id", j.sourceID), slogError(err))
		s.publishError(j, err)
		return
	}
	s.publishTranscript(j, result)
}

func (s *Service) publishTranscript(j job, result TranscriptResult) {
	if result.Text == "" {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if j.final {
		subject = protocol.SubjectTranscriptFinal
	}
	msg := protocol.Transcript{
		SourceID:   j.sourceID,
		Utterance:  j.utterance,
		Text:       result.Text,
		Partial:    !j.final,
		Timestamp:  time.Now().UTC(),
		Confidence: result.Confidence,
	}
	if err := s.bus.PublishJSON(subject, msg); err != nil {
		s.log.Warn("failed to publish transcript", slogError(err))
	}
}

func (s *Service) publishError(j job, cause error) {
	msg := protocol.TranscriptError{
		SourceID:  j.sourceID,
		Utterance: j.utterance,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectTranscriptError, msg); err != nil {
		s.log.Warn("failed to publish transcript error", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
