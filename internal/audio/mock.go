package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

// MockCapture synthesizes a microphone that alternates between a tone and
// silence, so the whole pipeline can run without audio hardware.
type MockCapture struct {
	Format  meeting.AudioFormat
	Chunk   time.Duration
	Speech  time.Duration
	Silence time.Duration
	// Deny makes Acquire fail as if microphone access were refused.
	Deny bool
}

func NewMockCapture(format meeting.AudioFormat, chunk time.Duration) *MockCapture {
	return &MockCapture{
		Format:  format,
		Chunk:   chunk,
		Speech:  1500 * time.Millisecond,
		Silence: 2500 * time.Millisecond,
	}
}

func (m *MockCapture) Acquire(ctx context.Context) (meeting.AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Deny {
		return nil, fmt.Errorf("%w: mock capture denied", meeting.ErrPermissionDenied)
	}
	chunk := m.Chunk
	if chunk <= 0 {
		chunk = 100 * time.Millisecond
	}
	stream := newStream(m.Format, nil)
	stream.run(func() {
		ticker := time.NewTicker(chunk)
		defer ticker.Stop()
		var offset time.Duration
		for {
			select {
			case <-stream.done:
				return
			case <-ticker.C:
			}
			pcm := m.synthesize(offset, chunk)
			offset += chunk
			if !stream.emit(pcm) {
				return
			}
		}
	})
	return stream, nil
}

// synthesize renders chunk worth of s16le starting at offset into the pattern.
func (m *MockCapture) synthesize(offset, chunk time.Duration) []byte {
	rate := m.Format.SampleRate
	channels := m.Format.Channels
	if channels <= 0 {
		channels = 1
	}
	frames := int(int64(rate) * int64(chunk) / int64(time.Second))
	out := make([]byte, frames*channels*2)
	period := m.Speech + m.Silence
	for i := 0; i < frames; i++ {
		at := offset + time.Duration(i)*time.Second/time.Duration(rate)
		var sample int16
		if period <= 0 || at%period < m.Speech {
			sample = int16(8000 * math.Sin(2*math.Pi*440*at.Seconds()))
		}
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(out[(i*channels+c)*2:], uint16(sample))
		}
	}
	return out
}
