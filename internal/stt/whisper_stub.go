//go:build !whisper

package stt

import (
	"errors"

	"github.com/loqalabs/loqa-minutes/internal/config"
)

func newWhisperRecognizer(config.STTConfig) (Recognizer, error) {
	return nil, errors.New("whisper recognizer not compiled in; rebuild with -tags whisper")
}
