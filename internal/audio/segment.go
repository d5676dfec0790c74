package audio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

// RMS returns the root mean square amplitude of s16le samples.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Segmenter splits a PCM stream into utterances using an energy gate: an
// utterance opens on the first chunk at or above the threshold and closes once
// the signal has stayed below it for the hold duration.
type Segmenter struct {
	threshold float64
	hold      time.Duration
	format    meeting.AudioFormat

	open    bool
	silence time.Duration
}

func NewSegmenter(threshold float64, hold time.Duration, format meeting.AudioFormat) *Segmenter {
	return &Segmenter{threshold: threshold, hold: hold, format: format}
}

// Push classifies chunk. inUtterance reports whether the chunk belongs to an
// open utterance and final whether the utterance closed with it.
func (s *Segmenter) Push(chunk []byte) (inUtterance, final bool) {
	if RMS(chunk) >= s.threshold {
		s.open = true
		s.silence = 0
		return true, false
	}
	if !s.open {
		return false, false
	}
	s.silence += durationOf(len(chunk), s.format)
	if s.silence >= s.hold {
		s.open = false
		s.silence = 0
		return true, true
	}
	return true, false
}

func (s *Segmenter) Open() bool { return s.open }

func (s *Segmenter) Reset() {
	s.open = false
	s.silence = 0
}

// Utterance is one energy-gated span of a recording. End includes the
// trailing silence that closed it.
type Utterance struct {
	Start time.Duration
	End   time.Duration
	PCM   []byte
}

// Split runs the segmenter over a complete recording in chunk-sized steps.
// An utterance still open at the end of pcm is returned as well.
func (s *Segmenter) Split(pcm []byte, chunk time.Duration) []Utterance {
	step := bytesFor(chunk, s.format)
	if step <= 0 {
		step = len(pcm)
	}
	var (
		out     []Utterance
		current *Utterance
	)
	for off := 0; off < len(pcm); off += step {
		end := min(off+step, len(pcm))
		in, final := s.Push(pcm[off:end])
		if !in {
			continue
		}
		if current == nil {
			current = &Utterance{Start: durationOf(off, s.format)}
		}
		current.PCM = append(current.PCM, pcm[off:end]...)
		if final {
			current.End = durationOf(end, s.format)
			out = append(out, *current)
			current = nil
		}
	}
	if current != nil {
		current.End = durationOf(len(pcm), s.format)
		out = append(out, *current)
	}
	s.Reset()
	return out
}

func durationOf(size int, format meeting.AudioFormat) time.Duration {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return 0
	}
	frames := size / 2 / format.Channels
	return time.Duration(frames) * time.Second / time.Duration(format.SampleRate)
}
