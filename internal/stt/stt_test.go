package stt

import (
	"context"
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

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func sttConfig() config.STTConfig {
	return config.STTConfig{Enabled: true, Mode: "mock", SampleRate: 16000, Channels: 1}
}

func nextEvent(t *testing.T, rec meeting.Recognition) meeting.RecognitionEvent {
	t.Helper()
	select {
	case ev, ok := <-rec.Events():
		if !ok {
			t.Fatalf("recognition ended unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for recognition event")
		return meeting.RecognitionEvent{}
	}
}

func subscribe(t *testing.T, client *bus.Client, idle time.Duration) meeting.Recognition {
	t.Helper()
	stream := NewBusStream(client, "desk", idle, newLogger())
	rec, err := stream.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = rec.Close() })
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return rec
}

func publishUtterance(t *testing.T, client *bus.Client, source string, pcm []byte) {
	t.Helper()
	subject := protocol.AudioFrameSubject(source)
	if err := client.PublishJSON(subject, protocol.AudioFrame{SourceID: source, Sequence: 1, SampleRate: 16000, Channels: 1, PCM: pcm}); err != nil {
		t.Fatalf("publish frame: %v", err)
	}
	if err := client.PublishJSON(subject, protocol.AudioFrame{SourceID: source, Sequence: 2, SampleRate: 16000, Channels: 1, Final: true}); err != nil {
		t.Fatalf("publish final frame: %v", err)
	}
}

func TestServiceFinalTranscriptReachesBusStream(t *testing.T) {
	client := startBus(t)
	svc := NewService(context.Background(), sttConfig(), client, NewMockRecognizer(), newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatalf("expected service healthy after start")
	}

	rec := subscribe(t, client, 0)
	publishUtterance(t, client, "desk", make([]byte, 3200))

	ev := nextEvent(t, rec)
	if ev.Err != nil || !ev.Speech.IsFinal {
		t.Fatalf("expected final speech event, got %+v", ev)
	}
	if ev.Speech.Text != "[final transcript 100ms]" {
		t.Fatalf("unexpected text %q", ev.Speech.Text)
	}
	if ev.Speech.ResultIndex != 0 || ev.Speech.ArrivalTime.IsZero() {
		t.Fatalf("unexpected event metadata: %+v", ev.Speech)
	}

	publishUtterance(t, client, "desk", make([]byte, 6400))
	ev = nextEvent(t, rec)
	if ev.Speech.ResultIndex != 1 || ev.Speech.Text != "[final transcript 200ms]" {
		t.Fatalf("expected second utterance to start a fresh buffer, got %+v", ev.Speech)
	}
}

func TestBusStreamFiltersOtherSources(t *testing.T) {
	client := startBus(t)
	rec := subscribe(t, client, 0)

	if err := client.PublishJSON(protocol.SubjectTranscriptFinal, protocol.Transcript{SourceID: "hallway", Text: "not mine"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.PublishJSON(protocol.SubjectTranscriptPartial, protocol.Transcript{SourceID: "desk", Text: "mine", Partial: true}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := nextEvent(t, rec)
	if ev.Speech.Text != "mine" || ev.Speech.IsFinal {
		t.Fatalf("expected interim event for desk, got %+v", ev)
	}
}

type failingRecognizer struct{}

func (failingRecognizer) Transcribe(context.Context, []byte, int, int, bool) (TranscriptResult, error) {
	return TranscriptResult{}, errors.New("no speech detected")
}

func TestRecognizerErrorsArePublished(t *testing.T) {
	client := startBus(t)
	svc := NewService(context.Background(), sttConfig(), client, failingRecognizer{}, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	rec := subscribe(t, client, 0)
	publishUtterance(t, client, "desk", make([]byte, 320))
	ev := nextEvent(t, rec)
	if ev.Err == nil || ev.Err.Error() != "no speech detected" {
		t.Fatalf("expected recognition error event, got %+v", ev)
	}
}

func TestBusStreamEndsWhenIdle(t *testing.T) {
	client := startBus(t)
	rec := subscribe(t, client, 50*time.Millisecond)
	select {
	case _, ok := <-rec.Events():
		if ok {
			t.Fatalf("expected no events before idle end")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not end after idle timeout")
	}
}

func TestBusStreamClose(t *testing.T) {
	client := startBus(t)
	rec := subscribe(t, client, 0)
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-rec.Events(); ok {
		t.Fatalf("expected events closed after Close")
	}
}

func TestDisabledServiceIsHealthy(t *testing.T) {
	cfg := sttConfig()
	cfg.Enabled = false
	svc := NewService(context.Background(), cfg, nil, NewMockRecognizer(), newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !svc.Healthy() {
		t.Fatalf("disabled service must report healthy")
	}
	svc.Close()
}

func TestNewRecognizerModes(t *testing.T) {
	if _, err := NewRecognizer(config.STTConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := NewRecognizer(config.STTConfig{Mode: "exec"}); err == nil {
		t.Fatalf("expected error for exec without command")
	}
	if _, err := NewRecognizer(config.STTConfig{Mode: "whisper"}); err == nil {
		t.Fatalf("expected error for whisper without a model")
	}
	if _, err := NewRecognizer(config.STTConfig{Mode: "cloud"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestExecRecognizerRunsCommand(t *testing.T) {
	r, err := NewExecRecognizer(config.STTConfig{
		Command:  `sh -c "cat >/dev/null; echo '{\"text\":\"hello there\",\"confidence\":0.75}'"`,
		Language: "en",
	})
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	res, err := r.Transcribe(context.Background(), make([]byte, 3200), 16000, 1, true)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hello there" || res.Confidence != 0.75 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSourceDefersFinalWhileBusy(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	src := &source{id: "desk", pcm: []byte{1, 2}}

	partial := src.takePartial(now, time.Second)
	if partial == nil || partial.final || len(partial.pcm) != 2 {
		t.Fatalf("expected first partial immediately, got %+v", partial)
	}
	src.pcm = append(src.pcm, 3, 4)
	if j := src.takePartial(now.Add(2*time.Second), time.Second); j != nil {
		t.Fatalf("no partial while a call is running")
	}
	if j := src.takeFinal(); j != nil || !src.pendingFinal {
		t.Fatalf("expected final to be deferred, got %+v", j)
	}

	final := src.finish(*partial, now)
	if final == nil || !final.final || final.utterance != 0 || len(final.pcm) != 4 {
		t.Fatalf("expected deferred final over the whole utterance, got %+v", final)
	}
	if src.utterance != 1 || src.pcm != nil || !src.busy {
		t.Fatalf("unexpected source state after final: %+v", src)
	}
	if next := src.finish(*final, now); next != nil || src.busy {
		t.Fatalf("expected idle source, got %+v", next)
	}
}

func TestSourcePartialInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	src := &source{id: "desk", pcm: []byte{1}}
	j := src.takePartial(now, 500*time.Millisecond)
	src.finish(*j, now)
	if src.takePartial(now.Add(100*time.Millisecond), 500*time.Millisecond) != nil {
		t.Fatalf("partial before interval")
	}
	if src.takePartial(now.Add(600*time.Millisecond), 500*time.Millisecond) == nil {
		t.Fatalf("expected partial after interval")
	}
	empty := &source{id: "desk"}
	if empty.takeFinal() != nil || empty.utterance != 1 {
		t.Fatalf("empty final should advance the utterance without a call")
	}
}
