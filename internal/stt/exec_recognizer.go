package stt

import (
	"context"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-minutes/internal/audio"
	"github.com/loqalabs/loqa-minutes/internal/config"
	"github.com/loqalabs/loqa-minutes/internal/execjson"
)

// execRecognizer hands each utterance to an external transcriber as a WAV
// file. The file path and options are passed both as flags and as a JSON
// request on stdin; the program answers with {"text", "confidence"}.
type execRecognizer struct {
	cmd   execjson.Command
	model string
	lang  string
}

type execRequest struct {
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Final      bool   `json:"final"`
	Model      string `json:"model,omitempty"`
	Language   string `json:"language,omitempty"`
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	cmd, err := execjson.Parse("stt", cfg.Command)
	if err != nil {
		return nil, err
	}
	return &execRecognizer{cmd: cmd, model: cfg.ModelPath, lang: cfg.Language}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error) {
	path, err := writeUtterance(pcm, sampleRate, channels)
	if err != nil {
		return TranscriptResult{}, err
	}
	defer os.Remove(path)

	cmd := r.cmd.With("--audio", path)
	if r.model != "" {
		cmd = cmd.With("--model", r.model)
	}
	if r.lang != "" {
		cmd = cmd.With("--language", r.lang)
	}
	if !final {
		cmd = cmd.With("--partial")
	}

	req := execRequest{Audio: path, SampleRate: sampleRate, Channels: channels, Final: final, Model: r.model, Language: r.lang}
	var res execResult
	if err := cmd.Run(ctx, req, &res); err != nil {
		return TranscriptResult{}, err
	}
	return TranscriptResult{Text: res.Text, Confidence: res.Confidence}, nil
}

func writeUtterance(pcm []byte, sampleRate, channels int) (string, error) {
	file, err := os.CreateTemp("", "minutes_utterance_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer file.Close()
	if err := audio.WritePCM(file, pcm, sampleRate, channels); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}
