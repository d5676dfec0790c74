package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/execjson"
)

// execGenerator runs a local program per request. The program reads
// execRequest from stdin and writes one or more execChunk documents to
// stdout; every document but the last is delivered as a partial chunk.
type execGenerator struct {
	cmd execjson.Command
}

type execRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Format      string  `json:"format,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type execChunk struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	cmd, err := execjson.Parse("llm", command)
	if err != nil {
		return nil, err
	}
	return &execGenerator{cmd: cmd}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	in := execRequest{
		Prompt:      req.Prompt,
		System:      req.System,
		Format:      req.Format,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	// Hold one document back so the last one can be marked final.
	var pending *execChunk
	emit := func(c execChunk, partial bool) error {
		return consumer(Chunk{
			SessionID:        req.SessionID,
			Content:          c.Content,
			Partial:          partial,
			PromptTokens:     c.PromptTokens,
			CompletionTokens: c.CompletionTokens,
			Latency:          time.Since(start),
			TraceID:          req.TraceID,
		})
	}
	err := g.cmd.Stream(ctx, in, func(raw json.RawMessage) error {
		var c execChunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		if pending != nil {
			if err := emit(*pending, true); err != nil {
				return err
			}
		}
		pending = &c
		return nil
	})
	if err != nil {
		return err
	}
	if pending == nil {
		return emit(execChunk{}, false)
	}
	return emit(*pending, false)
}
