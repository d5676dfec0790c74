package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaModel = "llama3.2:latest"

// ollamaGenerator streams completions from an Ollama server's
// /api/generate endpoint, which answers with newline-delimited JSON.
type ollamaGenerator struct {
	url    string
	models map[string]string
	client *http.Client
}

func NewOllamaGenerator(endpoint, fastModel, balancedModel string) Generator {
	return &ollamaGenerator{
		url:    strings.TrimRight(endpoint, "/") + "/api/generate",
		models: map[string]string{"fast": fastModel, "balanced": balancedModel},
		client: http.DefaultClient,
	}
}

// model picks the model for tier, falling back to balanced, then fast.
func (g *ollamaGenerator) model(tier string) string {
	for _, t := range []string{tier, "balanced", "fast"} {
		if m := g.models[t]; m != "" {
			return m
		}
	}
	return defaultOllamaModel
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Format  string        `json:"format,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaEvent struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	body, err := json.Marshal(ollamaRequest{
		Model:   g.model(req.Tier),
		Prompt:  req.Prompt,
		System:  req.System,
		Format:  req.Format,
		Stream:  true,
		Options: ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return ollamaStatusError(resp)
	}

	dec := json.NewDecoder(resp.Body)
	chunk := Chunk{SessionID: req.SessionID, TraceID: req.TraceID}
	for {
		var ev ollamaEvent
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ollama: decode stream: %w", err)
		}
		if ev.Error != "" {
			return fmt.Errorf("ollama: %s", ev.Error)
		}
		if ev.PromptEvalCount > 0 {
			chunk.PromptTokens = ev.PromptEvalCount
		}
		if ev.EvalCount > 0 {
			chunk.CompletionTokens = ev.EvalCount
		}
		chunk.Content = ev.Response
		chunk.Partial = !ev.Done
		chunk.Latency = time.Since(started)
		if err := consumer(chunk); err != nil {
			return err
		}
		if ev.Done {
			return nil
		}
	}
}

// ollamaStatusError prefers the {"error": ...} body Ollama sends on failure.
func ollamaStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		return fmt.Errorf("ollama returned status %s", resp.Status)
	}
	return fmt.Errorf("ollama returned status %s: %s", resp.Status, msg)
}
