package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Meeting.SilenceThresholdMS != 2000 || cfg.Meeting.MergeWindowMS != 5000 {
		t.Fatalf("unexpected meeting defaults: %+v", cfg.Meeting)
	}
	if len(cfg.Meeting.Palette) != 6 {
		t.Fatalf("expected six palette colours, got %v", cfg.Meeting.Palette)
	}
	if !cfg.Meeting.AutoSummarize {
		t.Fatalf("expected auto summarize by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_AUDIO_MODE", "exec")
	t.Setenv("LOQA_AUDIO_COMMAND", "ffmpeg -f pulse -i default -f s16le -")
	t.Setenv("LOQA_STT_STREAM_IDLE_TIMEOUT_MS", "4000")
	t.Setenv("LOQA_MEETING_SILENCE_THRESHOLD_MS", "1500")
	t.Setenv("LOQA_MEETING_PALETTE", "#000000, #ffffff")
	t.Setenv("LOQA_MEETING_AUTO_SUMMARIZE", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store max sessions override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
	if cfg.Audio.Mode != "exec" || cfg.Audio.Command == "" {
		t.Fatalf("expected audio exec override, got %+v", cfg.Audio)
	}
	if cfg.STT.StreamIdleTimeoutMS != 4000 {
		t.Fatalf("expected stream idle timeout override")
	}
	if cfg.Meeting.SilenceThresholdMS != 1500 {
		t.Fatalf("expected silence threshold override")
	}
	if len(cfg.Meeting.Palette) != 2 || cfg.Meeting.Palette[1] != "#ffffff" {
		t.Fatalf("expected palette override, got %v", cfg.Meeting.Palette)
	}
	if cfg.Meeting.AutoSummarize {
		t.Fatalf("expected auto summarize override false")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minutes.yaml")
	data := []byte(`
runtime_name: board-room
meeting:
  silence_threshold_ms: 3000
  speaker_prefix: voice
llm:
  mode: ollama
  model_balanced: qwen2.5:7b
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "board-room" || cfg.Meeting.SpeakerPrefix != "voice" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Meeting.SilenceThresholdMS != 3000 || cfg.Meeting.MergeWindowMS != 5000 {
		t.Fatalf("expected yaml to override only named fields: %+v", cfg.Meeting)
	}
	if cfg.LLM.Mode != "ollama" || cfg.LLM.ModelBalanced != "qwen2.5:7b" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minutes.toml")
	data := []byte(`
runtime_name = "board-room"

[meeting]
merge_window_ms = 4000
palette = ["#111111", "#222222"]

[event_store]
retention_mode = "persistent"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "board-room" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Meeting.MergeWindowMS != 4000 || cfg.Meeting.SilenceThresholdMS != 2000 || len(cfg.Meeting.Palette) != 2 {
		t.Fatalf("expected toml to override only named fields: %+v", cfg.Meeting)
	}
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	t.Setenv("LOQA_MEETING_SILENCE_THRESHOLD_MS", "200")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error for threshold below 500ms")
	}
}

func TestValidateExecRequiresCommand(t *testing.T) {
	t.Setenv("LOQA_AUDIO_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error for exec audio without command")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateWhisperRequiresModel(t *testing.T) {
	t.Setenv("LOQA_STT_ENABLED", "true")
	t.Setenv("LOQA_STT_MODE", "whisper")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error for whisper without model_path")
	}
	t.Setenv("LOQA_STT_MODEL_PATH", "/models/ggml-base.en.bin")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.STT.ModelPath != "/models/ggml-base.en.bin" {
		t.Fatalf("expected model path override, got %q", cfg.STT.ModelPath)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "minutes.yaml"))
	if err != nil {
		t.Fatalf("load sample config: %v", err)
	}
	if cfg.Telemetry.TraceExporter != "none" || cfg.HTTP.Bind != "127.0.0.1" || !cfg.HTTP.MCP {
		t.Fatalf("unexpected sample config: %+v", cfg)
	}
	if len(cfg.Meeting.Palette) != 6 {
		t.Fatalf("expected default palette to survive, got %v", cfg.Meeting.Palette)
	}
}
