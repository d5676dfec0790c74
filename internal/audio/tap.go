package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/meeting"
	"github.com/loqalabs/loqa-minutes/internal/protocol"
)

// Publisher is the subset of the bus client the tap needs.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Tap wraps a capture so every acquired stream is also segmented into
// utterances and published as audio frames for the recognizer.
type Tap struct {
	capture   meeting.AudioCapture
	publisher Publisher
	sourceID  string
	threshold float64
	hold      time.Duration
	log       *slog.Logger
}

func NewTap(capture meeting.AudioCapture, publisher Publisher, sourceID string, silenceRMS float64, hold time.Duration, log *slog.Logger) *Tap {
	return &Tap{
		capture:   capture,
		publisher: publisher,
		sourceID:  sourceID,
		threshold: silenceRMS,
		hold:      hold,
		log:       log.With(slog.String("component", "audio-tap")),
	}
}

func (t *Tap) Acquire(ctx context.Context) (meeting.AudioStream, error) {
	inner, err := t.capture.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	ts := &tapStream{
		tap:       t,
		inner:     inner,
		out:       make(chan []byte, 32),
		segmenter: NewSegmenter(t.threshold, t.hold, inner.Format()),
		subject:   protocol.AudioFrameSubject(t.sourceID),
	}
	go ts.forward()
	return ts, nil
}

type tapStream struct {
	tap     *Tap
	inner   meeting.AudioStream
	out     chan []byte
	subject string

	mu        sync.Mutex
	segmenter *Segmenter
	sequence  int
}

func (s *tapStream) Format() meeting.AudioFormat { return s.inner.Format() }

func (s *tapStream) Chunks() <-chan []byte { return s.out }

func (s *tapStream) forward() {
	defer close(s.out)
	for chunk := range s.inner.Chunks() {
		s.mu.Lock()
		inUtterance, final := s.segmenter.Push(chunk)
		if inUtterance {
			s.publish(chunk, final)
		}
		s.mu.Unlock()
		s.out <- chunk
	}
	s.closeUtterance()
}

// Pause closes any open utterance so the recognizer finalizes it.
func (s *tapStream) Pause() error {
	s.closeUtterance()
	return s.inner.Pause()
}

func (s *tapStream) Resume() error {
	return s.inner.Resume()
}

func (s *tapStream) Release() error {
	return s.inner.Release()
}

func (s *tapStream) closeUtterance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.segmenter.Open() {
		return
	}
	s.segmenter.Reset()
	s.publish(nil, true)
}

// publish sends one frame. Callers hold s.mu.
func (s *tapStream) publish(pcm []byte, final bool) {
	format := s.inner.Format()
	s.sequence++
	frame := protocol.AudioFrame{
		SourceID:   s.tap.sourceID,
		Sequence:   s.sequence,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		PCM:        pcm,
		Final:      final,
	}
	if err := s.tap.publisher.PublishJSON(s.subject, frame); err != nil {
		s.tap.log.Warn("failed to publish audio frame", slog.String("error", err.Error()))
	}
}
