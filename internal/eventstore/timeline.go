package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

// Timeline event types.
const (
	EventStateChanged      = "meeting.state"
	EventLineCommitted     = "meeting.line"
	EventSpeakerUpdated    = "meeting.speaker"
	EventSpeakerRenamed    = "meeting.speaker_renamed"
	EventRecognitionFailed = "meeting.recognition_error"
)

const timelineQueue = 256

// Timeline records controller notifications as session events. Writes happen
// on a background worker; events are dropped with a warning when the queue is
// full. Interim text and ticks are not recorded.
type Timeline struct {
	meeting.NopNotifier

	store *Store
	log   *slog.Logger
	queue chan Event
	done  chan struct{}
	seen  map[string]bool

	mu     sync.RWMutex
	closed bool
}

func NewTimeline(store *Store, log *slog.Logger) *Timeline {
	t := &Timeline{
		store: store,
		log:   log.With(slog.String("component", "timeline")),
		queue: make(chan Event, timelineQueue),
		done:  make(chan struct{}),
		seen:  make(map[string]bool),
	}
	go t.run()
	return t
}

// Close flushes queued events and stops the worker.
func (t *Timeline) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	<-t.done
}

func (t *Timeline) run() {
	defer close(t.done)
	ctx := context.Background()
	for evt := range t.queue {
		if !t.seen[evt.SessionID] {
			if err := t.store.AppendSession(ctx, evt.SessionID); err != nil {
				t.log.Warn("timeline session insert failed", slog.String("session_id", evt.SessionID), slog.String("error", err.Error()))
				continue
			}
			t.seen[evt.SessionID] = true
		}
		if err := t.store.AppendEvent(ctx, evt); err != nil {
			t.log.Warn("timeline append failed", slog.String("type", evt.Type), slog.String("error", err.Error()))
		}
	}
}

func (t *Timeline) record(sessionID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		t.log.Warn("timeline encode failed", slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}
	evt := Event{SessionID: sessionID, Type: eventType, Payload: data, CreatedAt: time.Now()}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- evt:
	default:
		t.log.Warn("timeline queue full, event dropped", slog.String("type", eventType))
	}
}

func (t *Timeline) StateChanged(sessionID string, state meeting.State, reason meeting.Reason, elapsed time.Duration) {
	t.record(sessionID, EventStateChanged, map[string]any{
		"state":      state,
		"reason":     reason,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

func (t *Timeline) LineCommitted(sessionID string, index int, line meeting.TranscriptLine, merged bool) {
	t.record(sessionID, EventLineCommitted, map[string]any{
		"index":  index,
		"line":   line,
		"merged": merged,
	})
}

func (t *Timeline) SpeakerUpdated(sessionID string, speaker meeting.Speaker) {
	t.record(sessionID, EventSpeakerUpdated, speaker)
}

func (t *Timeline) SpeakerRenamed(sessionID string, oldID, newID string) {
	t.record(sessionID, EventSpeakerRenamed, map[string]string{"from": oldID, "to": newID})
}

func (t *Timeline) RecognitionFailed(sessionID string, err error) {
	t.record(sessionID, EventRecognitionFailed, map[string]string{"error": err.Error()})
}

var _ meeting.Notifier = (*Timeline)(nil)
var _ meeting.Archiver = (*Store)(nil)
