package natsserver

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/config"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, newLogger())
	if err != nil || srv != nil {
		t.Fatalf("expected nil server when embedded mode is off, got %v %v", srv, err)
	}
	srv.Shutdown()
	if srv.ClientURL() != "" {
		t.Fatalf("nil server must have no url")
	}
}

func TestStartAcceptsClients(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("meeting.state")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := nc.Publish("meeting.state", []byte("recording")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if string(msg.Data) != "recording" {
		t.Fatalf("unexpected payload %q", msg.Data)
	}
}

func TestSlogAdapterLevels(t *testing.T) {
	var buf bytes.Buffer
	a := slogAdapter{log: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))}
	a.Noticef("listening on %d", 4222)
	a.Warnf("slow consumer %s", "c1")
	out := buf.String()
	if strings.Contains(out, "listening") {
		t.Fatalf("notices should log at debug: %s", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "slow consumer c1") {
		t.Fatalf("expected warning, got %s", out)
	}
}

func TestStartWithJetStream(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: true, Port: -1, JetStream: true, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	if _, err := js.AccountInfo(); err != nil {
		t.Fatalf("expected jetstream enabled: %v", err)
	}
}
