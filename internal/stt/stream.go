package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/bus"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
	"github.com/loqalabs/loqa-minutes/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusStream exposes bus transcripts for one audio source as a recognition
// stream. Like hosted speech APIs, a subscription ends by itself after a
// period without results and has to be reopened by the consumer.
type BusStream struct {
	bus      *bus.Client
	sourceID string
	idle     time.Duration
	log      *slog.Logger
	clock    func() time.Time
}

func NewBusStream(client *bus.Client, sourceID string, idle time.Duration, log *slog.Logger) *BusStream {
	return &BusStream{
		bus:      client,
		sourceID: sourceID,
		idle:     idle,
		log:      log.With(slog.String("component", "stt-stream")),
		clock:    time.Now,
	}
}

func (b *BusStream) Subscribe(ctx context.Context) (meeting.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs := make(chan *nats.Msg, 64)
	sub, err := b.bus.Conn().ChanSubscribe(protocol.SubjectTranscriptAll, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe transcripts: %w", err)
	}
	rec := &busRecognition{
		events: make(chan meeting.RecognitionEvent),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go b.run(ctx, rec, sub, msgs)
	return rec, nil
}

func (b *BusStream) run(ctx context.Context, rec *busRecognition, sub *nats.Subscription, msgs <-chan *nats.Msg) {
	defer close(rec.exited)
	defer close(rec.events)
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.log.Debug("unsubscribe transcripts", slog.String("error", err.Error()))
		}
	}()

	var idle <-chan time.Time
	var timer *time.Timer
	if b.idle > 0 {
		timer = time.NewTimer(b.idle)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-rec.done:
			return
		case <-idle:
			b.log.Debug("recognition stream idle, ending", slog.String("source_id", b.sourceID))
			return
		case msg := <-msgs:
			ev, ok := b.decode(msg)
			if !ok {
				continue
			}
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(b.idle)
			}
			select {
			case rec.events <- ev:
			case <-ctx.Done():
				return
			case <-rec.done:
				return
			}
		}
	}
}

func (b *BusStream) decode(msg *nats.Msg) (meeting.RecognitionEvent, bool) {
	if msg.Subject == protocol.SubjectTranscriptError {
		var te protocol.TranscriptError
		if err := json.Unmarshal(msg.Data, &te); err != nil {
			b.log.Warn("failed to decode transcript error", slog.String("error", err.Error()))
			return meeting.RecognitionEvent{}, false
		}
		if te.SourceID != b.sourceID {
			return meeting.RecognitionEvent{}, false
		}
		return meeting.RecognitionEvent{Err: errors.New(te.Error)}, true
	}

	var tr protocol.Transcript
	if err := json.Unmarshal(msg.Data, &tr); err != nil {
		b.log.Warn("failed to decode transcript", slog.String("error", err.Error()))
		return meeting.RecognitionEvent{}, false
	}
	if tr.SourceID != b.sourceID {
		return meeting.RecognitionEvent{}, false
	}
	return meeting.RecognitionEvent{Speech: meeting.SpeechEvent{
		ResultIndex: tr.Utterance,
		IsFinal:     !tr.Partial,
		Text:        tr.Text,
		ArrivalTime: b.clock(),
	}}, true
}

type busRecognition struct {
	events chan meeting.RecognitionEvent
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (r *busRecognition) Events() <-chan meeting.RecognitionEvent { return r.events }

// Close ends the subscription and waits until it has been removed from the bus.
func (r *busRecognition) Close() error {
	r.once.Do(func() { close(r.done) })
	<-r.exited
	return nil
}
