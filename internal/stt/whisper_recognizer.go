//go:build whisper

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/loqalabs/loqa-minutes/internal/config"
)

// whisperRecognizer runs whisper.cpp in process. Partial requests are
// skipped since a full decode per partial is too slow for live captions.
type whisperRecognizer struct {
	mu       sync.Mutex
	model    whisper.Model
	language string
}

func newWhisperRecognizer(cfg config.STTConfig) (Recognizer, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("whisper recognizer requires stt.model_path")
	}
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &whisperRecognizer{model: model, language: cfg.Language}, nil
}

func (r *whisperRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	if !final {
		return TranscriptResult{}, nil
	}
	if sampleRate != whisper.SampleRate {
		return TranscriptResult{}, fmt.Errorf("whisper expects %d Hz audio, got %d", whisper.SampleRate, sampleRate)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	wctx, err := r.model.NewContext()
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper context: %w", err)
	}
	if r.language != "" {
		if err := wctx.SetLanguage(r.language); err != nil {
			return TranscriptResult{}, fmt.Errorf("whisper language %q: %w", r.language, err)
		}
	}
	if err := wctx.Process(monoFloat32(pcm, channels), nil, nil, nil); err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper process: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return TranscriptResult{}, fmt.Errorf("whisper segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return TranscriptResult{Text: strings.Join(parts, " "), Confidence: 1}, nil
}

// monoFloat32 converts interleaved s16le PCM to mono samples in [-1, 1].
func monoFloat32(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / 2 / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			sum += float32(int16(uint16(pcm[off])|uint16(pcm[off+1])<<8)) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out
}
