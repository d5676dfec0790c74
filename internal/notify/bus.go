// Package notify forwards meeting controller notifications to the message bus
// so that UIs and other services can follow a live session.
package notify

import (
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/meeting"
	"github.com/loqalabs/loqa-minutes/internal/protocol"
)

// Publisher is the subset of the bus client used here.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// BusNotifier publishes every notification as a protocol message. Publishing
// only buffers on the connection, so it is safe to call with controller state
// held.
type BusNotifier struct {
	pub   Publisher
	log   *slog.Logger
	clock func() time.Time
}

func NewBusNotifier(pub Publisher, log *slog.Logger) *BusNotifier {
	return &BusNotifier{
		pub:   pub,
		log:   log.With(slog.String("component", "notify")),
		clock: time.Now,
	}
}

func (n *BusNotifier) publish(subject string, v any) {
	if err := n.pub.PublishJSON(subject, v); err != nil {
		n.log.Warn("publish notification failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (n *BusNotifier) StateChanged(sessionID string, state meeting.State, reason meeting.Reason, elapsed time.Duration) {
	n.publish(protocol.SubjectMeetingState, protocol.MeetingState{
		SessionID: sessionID,
		State:     string(state),
		Reason:    string(reason),
		ElapsedMS: elapsed.Milliseconds(),
		Timestamp: n.clock().UTC(),
	})
}

func (n *BusNotifier) InterimUpdated(sessionID string, text string) {
	n.publish(protocol.SubjectMeetingInterim, protocol.MeetingInterim{SessionID: sessionID, Text: text})
}

func (n *BusNotifier) LineCommitted(sessionID string, index int, line meeting.TranscriptLine, merged bool) {
	n.publish(protocol.SubjectMeetingLine, protocol.MeetingLine{
		SessionID:     sessionID,
		Index:         index,
		SpeakerID:     line.SpeakerID,
		Text:          line.Text,
		Merged:        merged,
		CreatedAt:     line.CreatedAt,
		LastUpdatedAt: line.LastUpdatedAt,
	})
}

func (n *BusNotifier) SpeakerUpdated(sessionID string, speaker meeting.Speaker) {
	n.publish(protocol.SubjectMeetingSpeaker, protocol.MeetingSpeaker{
		SessionID:      sessionID,
		SpeakerID:      speaker.ID,
		Color:          speaker.Color,
		UtteranceCount: speaker.UtteranceCount,
		LastActive:     speaker.LastActive,
	})
}

func (n *BusNotifier) SpeakerRenamed(sessionID string, oldID, newID string) {
	n.publish(protocol.SubjectMeetingSpeaker, protocol.MeetingSpeaker{
		SessionID:  sessionID,
		SpeakerID:  newID,
		PreviousID: oldID,
	})
}

func (n *BusNotifier) Tick(sessionID string, elapsed time.Duration) {
	n.publish(protocol.SubjectMeetingTick, protocol.MeetingTick{SessionID: sessionID, ElapsedMS: elapsed.Milliseconds()})
}

func (n *BusNotifier) RecognitionFailed(sessionID string, err error) {
	n.publish(protocol.SubjectMeetingError, protocol.MeetingError{
		SessionID: sessionID,
		Error:     err.Error(),
		Timestamp: n.clock().UTC(),
	})
}

var _ meeting.Notifier = (*BusNotifier)(nil)
