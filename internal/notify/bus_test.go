package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/bus"
	"github.com/loqalabs/loqa-minutes/internal/config"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
	"github.com/loqalabs/loqa-minutes/internal/natsserver"
	"github.com/loqalabs/loqa-minutes/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type capturedMessage struct {
	subject string
	payload any
}

type recordingPublisher struct {
	msgs []capturedMessage
	err  error
}

func (p *recordingPublisher) PublishJSON(subject string, v any) error {
	p.msgs = append(p.msgs, capturedMessage{subject: subject, payload: v})
	return p.err
}

func TestBusNotifierSubjects(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewBusNotifier(pub, newLogger())

	n.StateChanged("s", meeting.StatePaused, meeting.ReasonPaused, 1500*time.Millisecond)
	n.InterimUpdated("s", "hel")
	n.LineCommitted("s", 2, meeting.TranscriptLine{SpeakerID: "speaker-1", Text: "hi"}, true)
	n.SpeakerUpdated("s", meeting.Speaker{ID: "speaker-1", UtteranceCount: 3})
	n.SpeakerRenamed("s", "speaker-1", "Aiko")
	n.Tick("s", time.Second)
	n.RecognitionFailed("s", errors.New("network"))

	want := []string{
		protocol.SubjectMeetingState,
		protocol.SubjectMeetingInterim,
		protocol.SubjectMeetingLine,
		protocol.SubjectMeetingSpeaker,
		protocol.SubjectMeetingSpeaker,
		protocol.SubjectMeetingTick,
		protocol.SubjectMeetingError,
	}
	if len(pub.msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(pub.msgs))
	}
	for i, subject := range want {
		if pub.msgs[i].subject != subject {
			t.Fatalf("message %d: expected %s, got %s", i, subject, pub.msgs[i].subject)
		}
	}
	state := pub.msgs[0].payload.(protocol.MeetingState)
	if state.State != "paused" || state.ElapsedMS != 1500 {
		t.Fatalf("unexpected state payload: %+v", state)
	}
	line := pub.msgs[2].payload.(protocol.MeetingLine)
	if line.Index != 2 || !line.Merged || line.Text != "hi" {
		t.Fatalf("unexpected line payload: %+v", line)
	}
	renamed := pub.msgs[4].payload.(protocol.MeetingSpeaker)
	if renamed.PreviousID != "speaker-1" || renamed.SpeakerID != "Aiko" {
		t.Fatalf("unexpected rename payload: %+v", renamed)
	}
}

func TestBusNotifierSurvivesPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("connection closed")}
	n := NewBusNotifier(pub, newLogger())
	n.Tick("s", time.Second)
	if len(pub.msgs) != 1 {
		t.Fatalf("expected publish attempt")
	}
}

func TestBusNotifierOverNATS(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	defer srv.Shutdown()
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	sub, err := client.Conn().SubscribeSync("meeting.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	NewBusNotifier(client, newLogger()).StateChanged("s-9", meeting.StateRecording, meeting.ReasonStarted, 0)

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var state protocol.MeetingState
	if err := json.Unmarshal(msg.Data, &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Subject != protocol.SubjectMeetingState || state.SessionID != "s-9" || state.State != "recording" {
		t.Fatalf("unexpected message %s %+v", msg.Subject, state)
	}
}
