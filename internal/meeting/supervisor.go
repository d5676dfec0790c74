package meeting

import (
	"context"
	"log/slog"
	"time"
)

type supervision struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// superviseRecognition keeps a recognition subscription open for s until the
// returned supervision is cancelled. Callers hold c.mu.
func (c *Controller) superviseRecognition(s *session) *supervision {
	ctx, cancel := context.WithCancel(context.Background())
	sup := &supervision{cancel: cancel, done: make(chan struct{})}
	go c.runRecognition(ctx, s, sup.done)
	return sup
}

func (c *Controller) runRecognition(ctx context.Context, s *session, done chan struct{}) {
	defer close(done)
	for {
		rec, err := c.recognizer.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.metrics.recognitionError()
			c.logger.Warn("recognition subscribe failed", slog.String("session_id", s.id), slogError(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.opts.ResubscribeDelay):
			}
			continue
		}

		c.consumeRecognition(ctx, s, rec)
		if err := rec.Close(); err != nil {
			c.logger.Debug("close recognition stream", slog.String("session_id", s.id), slogError(err))
		}
		if !c.stillRecording(ctx, s) {
			return
		}
		c.metrics.restarted()
		c.logger.Debug("recognition stream ended, resubscribing", slog.String("session_id", s.id))
	}
}

func (c *Controller) consumeRecognition(ctx context.Context, s *session, rec Recognition) {
	events := rec.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleRecognition(ctx, s, ev)
		}
	}
}

func (c *Controller) stillRecording(ctx context.Context, s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ctx.Err() == nil && c.session == s && s.state == StateRecording
}

// handleRecognition applies one event. Events that arrive after their
// subscription was cancelled or after the session left Recording are dropped.
func (c *Controller) handleRecognition(ctx context.Context, s *session, ev RecognitionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil || c.session != s || s.state != StateRecording {
		return
	}
	if ev.Err != nil {
		c.metrics.recognitionError()
		c.logger.Warn("recognition error", slog.String("session_id", s.id), slogError(ev.Err))
		c.notifier.RecognitionFailed(s.id, ev.Err)
		return
	}

	speech := ev.Speech
	if !speech.IsFinal {
		s.buffer.SetInterim(speech.Text)
		c.notifier.InterimUpdated(s.id, s.buffer.Display())
		return
	}
	c.commitFinal(s, speech)
}

func (c *Controller) commitFinal(s *session, speech SpeechEvent) {
	at := speech.ArrivalTime
	if at.IsZero() {
		at = c.clock()
	}
	s.buffer.AppendFinal(speech.Text)
	text := s.buffer.Flush()

	speakerID, created := s.engine.Attribute(at, c.threshold)
	if created {
		c.metrics.speakerAdded("silence")
	}
	if sp, ok := s.registry.Get(speakerID); ok {
		c.notifier.SpeakerUpdated(s.id, sp)
	}

	index, merged, ok := s.log.Add(speakerID, text, at)
	if ok {
		c.metrics.lineCommitted(merged)
		c.notifier.LineCommitted(s.id, index, s.log.Line(index), merged)
	}
	c.notifier.InterimUpdated(s.id, "")
}
