package meeting

import (
	"strings"
	"time"
)

// DefaultMergeWindow is the interval within which consecutive lines of the
// same speaker are concatenated.
const DefaultMergeWindow = 5 * time.Second

// Buffer holds text of the utterance that is still open.
type Buffer struct {
	pending string
	interim string
}

// SetInterim replaces the current interim fragment.
func (b *Buffer) SetInterim(text string) {
	b.interim = text
}

// AppendFinal adds confirmed text that has not been written to the log yet.
func (b *Buffer) AppendFinal(text string) {
	b.pending += text
	b.interim = ""
}

// Flush returns the confirmed text and empties the buffer.
func (b *Buffer) Flush() string {
	out := strings.TrimSpace(b.pending)
	b.pending = ""
	b.interim = ""
	return out
}

// Display is what a renderer shows while the utterance is open.
func (b *Buffer) Display() string {
	return b.pending + b.interim
}

func (b *Buffer) Reset() {
	b.pending = ""
	b.interim = ""
}

// Log is the ordered sequence of finalized lines.
type Log struct {
	window time.Duration
	lines  []TranscriptLine
}

func NewLog(window time.Duration) *Log {
	if window <= 0 {
		window = DefaultMergeWindow
	}
	return &Log{window: window}
}

// Add commits text for speaker at time at. It extends the last line when the
// speaker matches and the last update is within the merge window, otherwise
// appends. Blank text is dropped and ok is false.
func (l *Log) Add(speaker, text string, at time.Time) (index int, merged bool, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return -1, false, false
	}
	if n := len(l.lines); n > 0 {
		last := &l.lines[n-1]
		if last.SpeakerID == speaker && at.Sub(last.LastUpdatedAt) < l.window {
			last.Text = last.Text + " " + text
			last.LastUpdatedAt = at
			return n - 1, true, true
		}
	}
	l.lines = append(l.lines, TranscriptLine{
		SpeakerID:     speaker,
		Text:          text,
		CreatedAt:     at,
		LastUpdatedAt: at,
	})
	return len(l.lines) - 1, false, true
}

// Rename rewrites the speaker reference of every line and returns how many changed.
func (l *Log) Rename(oldID, newID string) int {
	changed := 0
	for i := range l.lines {
		if l.lines[i].SpeakerID == oldID {
			l.lines[i].SpeakerID = newID
			changed++
		}
	}
	return changed
}

func (l *Log) Len() int { return len(l.lines) }

func (l *Log) Line(i int) TranscriptLine { return l.lines[i] }

func (l *Log) Lines() []TranscriptLine {
	out := make([]TranscriptLine, len(l.lines))
	copy(out, l.lines)
	return out
}
