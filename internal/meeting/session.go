package meeting

import (
	"context"
	"time"
)

// session owns every piece of mutable meeting state. It is only touched while
// the controller mutex is held.
type session struct {
	id        string
	info      MeetingInfo
	state     State
	startedAt time.Time
	stoppedAt time.Time
	resumedAt time.Time
	frozen    time.Duration

	registry *Registry
	engine   *Engine
	buffer   Buffer
	log      *Log

	format      AudioFormat
	pcm         []byte
	stream      AudioStream
	pumpDone    chan struct{}
	recognition *supervision
	stopTimer   context.CancelFunc

	audio   *AudioBlob
	minutes *Minutes
}

func newSession(id string, opts Options) *session {
	registry := NewRegistry(opts.SpeakerPrefix, opts.Palette)
	return &session{
		id:       id,
		state:    StateIdle,
		registry: registry,
		engine:   NewEngine(registry),
		log:      NewLog(opts.MergeWindow),
	}
}

func (s *session) elapsed(now time.Time) time.Duration {
	if s.state == StateRecording {
		return s.frozen + now.Sub(s.resumedAt)
	}
	return s.frozen
}

func (s *session) minutesRequest() MinutesRequest {
	return MinutesRequest{
		SessionID: s.id,
		Info:      s.info,
		Audio:     s.audio,
		Lines:     s.log.Lines(),
		Speakers:  s.registry.Snapshot(),
	}
}

func (s *session) record() SessionRecord {
	return SessionRecord{
		SessionID: s.id,
		Info:      s.info,
		StartedAt: s.startedAt,
		StoppedAt: s.stoppedAt,
		Elapsed:   s.frozen,
		Audio:     s.audio,
		Lines:     s.log.Lines(),
		Speakers:  s.registry.Snapshot(),
		Minutes:   s.minutes,
	}
}
