package stt

import (
	"context"
	"fmt"
	"time"
)

// mockRecognizer describes the audio it was given instead of recognising it,
// e.g. "[final transcript 1.2s]".
type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return mockRecognizer{}
}

func (mockRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, final bool) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	kind := "partial"
	if final {
		kind = "final"
	}
	return TranscriptResult{
		Text: fmt.Sprintf("[%s transcript %s]", kind, pcmDuration(len(pcm), sampleRate, channels).Round(10*time.Millisecond)),
	}, nil
}

// pcmDuration is the play time of n bytes of 16-bit PCM.
func pcmDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := n / 2 / channels
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
