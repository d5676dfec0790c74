package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-minutes/internal/config"
)

func TestMockGeneratorJSON(t *testing.T) {
	text, _, err := Collect(context.Background(), NewMockGenerator(), Request{Prompt: "one two three", Format: "json"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		t.Fatalf("mock json output not parseable: %v (%s)", err, text)
	}
	if doc["discussion"] != "[mock completion for 3 words]" {
		t.Fatalf("unexpected discussion %v", doc["discussion"])
	}
}

func TestMockGeneratorHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Collect(ctx, NewMockGenerator(), Request{Prompt: "x"}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestOllamaGeneratorStreams(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, `{"response":"{\"discussion\":","done":false}`)
		fmt.Fprintln(w, `{"response":"\"ok\"}","done":true,"eval_count":7,"prompt_eval_count":11}`)
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL+"/", "fast-model", "balanced-model")
	text, last, err := Collect(context.Background(), g, Request{Prompt: "p", Tier: "fast", Format: "json"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"discussion":"ok"}` {
		t.Fatalf("unexpected text %q", text)
	}
	if last.Partial || last.CompletionTokens != 7 || last.PromptTokens != 11 {
		t.Fatalf("unexpected final chunk %+v", last)
	}
	if got.Model != "fast-model" || got.Format != "json" || !got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOllamaGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := Collect(context.Background(), NewOllamaGenerator(srv.URL, "", ""), Request{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestExecGenerator(t *testing.T) {
	g, err := NewExecGenerator(`sh -c "cat >/dev/null; printf '{\"content\":\"done\",\"completion_tokens\":2}'"`)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	text, last, err := Collect(context.Background(), g, Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "done" || last.CompletionTokens != 2 {
		t.Fatalf("unexpected output %q %+v", text, last)
	}
}

func TestExecGeneratorStreamsDocuments(t *testing.T) {
	g, err := NewExecGenerator(`sh -c "cat >/dev/null; echo '{\"content\":\"a\"}'; echo '{\"content\":\"b\",\"completion_tokens\":5}'"`)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	var chunks []Chunk
	err = g.Generate(context.Background(), Request{Prompt: "p"}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(chunks) != 2 || !chunks[0].Partial || chunks[1].Partial || chunks[1].CompletionTokens != 5 {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestExecGeneratorReportsStderr(t *testing.T) {
	g, err := NewExecGenerator(`sh -c "cat >/dev/null; echo model missing >&2; exit 3"`)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	_, _, err = Collect(context.Background(), g, Request{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "model missing") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestNewGenerator(t *testing.T) {
	if _, err := NewGenerator(config.LLMConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := NewGenerator(config.LLMConfig{Mode: "ollama", Endpoint: "http://localhost:11434"}); err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if _, err := NewGenerator(config.LLMConfig{Mode: "exec"}); err == nil {
		t.Fatalf("expected error for exec without command")
	}
	if _, err := NewGenerator(config.LLMConfig{Mode: "gpt"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.LLMConfig{DefaultTier: "balanced", MaxTokens: 512, Temperature: 0.3}
	req := OptionsFromConfig(cfg, "")
	if req.Tier != "balanced" || req.MaxTokens != 512 || req.Temperature != 0.3 {
		t.Fatalf("unexpected defaults %+v", req)
	}
	if OptionsFromConfig(cfg, "fast").Tier != "fast" {
		t.Fatalf("expected tier override")
	}
}

func TestOllamaGeneratorStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"partial","done":false}`)
		fmt.Fprintln(w, `{"error":"model unloaded"}`)
	}))
	defer srv.Close()

	_, _, err := Collect(context.Background(), NewOllamaGenerator(srv.URL, "", "m"), Request{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "model unloaded") {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestOllamaModelFallback(t *testing.T) {
	g := NewOllamaGenerator("http://localhost:11434", "fast-model", "").(*ollamaGenerator)
	if got := g.model("balanced"); got != "fast-model" {
		t.Fatalf("expected fast fallback, got %s", got)
	}
	g = NewOllamaGenerator("http://localhost:11434", "", "").(*ollamaGenerator)
	if got := g.model(""); got != defaultOllamaModel {
		t.Fatalf("expected default model, got %s", got)
	}
}

func TestOllamaStatusErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'x' not found"}`)
	}))
	defer srv.Close()

	_, _, err := Collect(context.Background(), NewOllamaGenerator(srv.URL, "", "x"), Request{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "model 'x' not found") {
		t.Fatalf("expected decoded error, got %v", err)
	}
}
