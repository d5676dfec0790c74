package meeting

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultPalette is the colour set assigned to speakers in registration order.
var DefaultPalette = []string{"#3b82f6", "#10b981", "#f59e0b", "#ef4444", "#8b5cf6", "#ec4899"}

const DefaultSpeakerPrefix = "speaker"

// Registry owns the speaker identities of one session.
type Registry struct {
	prefix   string
	palette  []string
	order    []string
	speakers map[string]*Speaker
}

func NewRegistry(prefix string, palette []string) *Registry {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultSpeakerPrefix
	}
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	return &Registry{
		prefix:   prefix,
		palette:  append([]string(nil), palette...),
		speakers: make(map[string]*Speaker),
	}
}

// ID formats the speaker id carrying numeric suffix n.
func (r *Registry) ID(n int) string {
	return fmt.Sprintf("%s-%d", r.prefix, n)
}

func (r *Registry) suffix(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, r.prefix+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Ensure registers id if it is absent and reports whether it was created.
func (r *Registry) Ensure(id string, at time.Time) bool {
	if _, ok := r.speakers[id]; ok {
		return false
	}
	index := len(r.order) % len(r.palette)
	r.speakers[id] = &Speaker{
		ID:         id,
		ColorIndex: index,
		Color:      r.palette[index],
		LastActive: at,
	}
	r.order = append(r.order, id)
	return true
}

// Next allocates and registers the id one past the highest numeric suffix
// among the current ids. A suffix freed by a rename is handed out again.
func (r *Registry) Next(at time.Time) string {
	id := r.ID(r.maxSuffix() + 1)
	r.Ensure(id, at)
	return id
}

func (r *Registry) maxSuffix() int {
	highest := 0
	for _, id := range r.order {
		if n, ok := r.suffix(id); ok && n > highest {
			highest = n
		}
	}
	return highest
}

// Record counts one utterance for id.
func (r *Registry) Record(id string, at time.Time) {
	sp, ok := r.speakers[id]
	if !ok {
		r.Ensure(id, at)
		sp = r.speakers[id]
	}
	sp.UtteranceCount++
	sp.LastActive = at
}

// Rename re-keys a speaker in place, keeping its colour and counters.
func (r *Registry) Rename(oldID, newID string) error {
	sp, ok := r.speakers[oldID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSpeaker, oldID)
	}
	if _, exists := r.speakers[newID]; exists {
		return fmt.Errorf("%w: %s", ErrSpeakerExists, newID)
	}
	delete(r.speakers, oldID)
	sp.ID = newID
	r.speakers[newID] = sp
	for i, id := range r.order {
		if id == oldID {
			r.order[i] = newID
			break
		}
	}
	return nil
}

func (r *Registry) Get(id string) (Speaker, bool) {
	sp, ok := r.speakers[id]
	if !ok {
		return Speaker{}, false
	}
	return *sp, true
}

func (r *Registry) Len() int { return len(r.order) }

// Snapshot returns speakers in registration order.
func (r *Registry) Snapshot() []Speaker {
	out := make([]Speaker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.speakers[id])
	}
	return out
}
