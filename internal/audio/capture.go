package audio

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/config"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

// FormatFromConfig describes the PCM produced by the configured device.
func FormatFromConfig(cfg config.AudioConfig) meeting.AudioFormat {
	return meeting.AudioFormat{SampleRate: cfg.SampleRate, Channels: cfg.Channels, Encoding: "s16le"}
}

// NewCapture builds the capture backend selected by cfg.Mode.
func NewCapture(cfg config.AudioConfig, log *slog.Logger) (meeting.AudioCapture, error) {
	format := FormatFromConfig(cfg)
	chunk := time.Duration(cfg.ChunkMS) * time.Millisecond
	switch cfg.Mode {
	case "", "mock":
		return NewMockCapture(format, chunk), nil
	case "exec":
		return NewExecCapture(cfg.Command, format, chunk, log.With(slog.String("component", "audio")))
	default:
		return nil, fmt.Errorf("unsupported audio mode %q", cfg.Mode)
	}
}
