package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type mockGenerator struct {
	delay time.Duration
}

func NewMockGenerator() Generator { return &mockGenerator{delay: 20 * time.Millisecond} }

// Generate answers with a canned document that reflects the prompt size, so a
// daemon running without a model still produces minutes end to end.
func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.delay):
	}
	words := len(strings.Fields(req.Prompt))
	content := fmt.Sprintf("[mock completion for %d words]", words)
	if req.Format == "json" {
		doc, err := json.Marshal(map[string]any{
			"agenda":     []string{"Review transcript"},
			"discussion": content,
			"decisions":  []string{},
		})
		if err != nil {
			return err
		}
		content = string(doc)
	}
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   content,
		Partial:   false,
		Latency:   m.delay,
		TraceID:   req.TraceID,
	})
}
