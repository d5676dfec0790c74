package meeting

import "time"

// Engine attributes finalized utterances to speakers from silence timing.
type Engine struct {
	registry   *Registry
	current    string
	lastSpeech time.Time
	spoken     bool
}

func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Current is the working speaker hypothesis; empty before the first utterance.
func (e *Engine) Current() string { return e.current }

// Attribute maps an utterance that arrived at `at` to a speaker, registering
// and counting it. The second return value reports a newly registered speaker.
func (e *Engine) Attribute(at time.Time, threshold time.Duration) (string, bool) {
	created := false
	bootstrap := e.registry.ID(1)

	if !e.spoken {
		// The first utterance always bootstraps, even after manual switches.
		e.current = bootstrap
		created = e.registry.Ensure(e.current, at)
	} else {
		gap := at.Sub(e.lastSpeech)
		switch {
		case gap > 3*threshold:
			e.current = e.registry.Next(at)
			created = true
		case gap > 2*threshold && e.current == "":
			// Unreachable once bootstrapped; kept so the documented rule holds.
			e.current = bootstrap
			created = e.registry.Ensure(e.current, at)
		}
		if e.current == "" {
			e.current = bootstrap
			created = e.registry.Ensure(e.current, at)
		}
	}

	e.registry.Record(e.current, at)
	e.lastSpeech = at
	e.spoken = true
	return e.current, created
}

// Switch forces a brand new speaker regardless of timing.
func (e *Engine) Switch(at time.Time) string {
	e.current = e.registry.Next(at)
	return e.current
}

func (e *Engine) renamed(oldID, newID string) {
	if e.current == oldID {
		e.current = newID
	}
}
