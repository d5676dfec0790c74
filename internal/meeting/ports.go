package meeting

import (
	"context"
	"time"
)

// AudioCapture acquires the microphone. Failures to acquire should wrap ErrPermissionDenied.
type AudioCapture interface {
	Acquire(ctx context.Context) (AudioStream, error)
}

// AudioStream is an acquired capture resource. Pause and Resume must not block
// on the consumer of Chunks. The Chunks channel is closed after Release.
type AudioStream interface {
	Format() AudioFormat
	Chunks() <-chan []byte
	Pause() error
	Resume() error
	Release() error
}

// RecognitionStream opens a recognition subscription.
type RecognitionStream interface {
	Subscribe(ctx context.Context) (Recognition, error)
}

// Recognition is one live recognition subscription. The provider may end it at
// any time by closing the Events channel.
type Recognition interface {
	Events() <-chan RecognitionEvent
	Close() error
}

// MinutesService turns a finished transcript into structured minutes.
type MinutesService interface {
	Generate(ctx context.Context, req MinutesRequest) (Minutes, error)
}

// AudioEncoder finalizes raw PCM into a single blob.
type AudioEncoder interface {
	Encode(sessionID string, pcm []byte, format AudioFormat) (AudioBlob, error)
}

// Archiver persists stopped sessions.
type Archiver interface {
	Archive(ctx context.Context, record SessionRecord) error
}

// Notifier receives controller notifications. Calls are made while the
// controller owns its state, so implementations must return quickly and must
// not call back into the controller.
type Notifier interface {
	StateChanged(sessionID string, state State, reason Reason, elapsed time.Duration)
	InterimUpdated(sessionID string, text string)
	LineCommitted(sessionID string, index int, line TranscriptLine, merged bool)
	SpeakerUpdated(sessionID string, speaker Speaker)
	SpeakerRenamed(sessionID string, oldID, newID string)
	Tick(sessionID string, elapsed time.Duration)
	RecognitionFailed(sessionID string, err error)
}

// NopNotifier ignores every notification. Embed it to implement a subset.
type NopNotifier struct{}

func (NopNotifier) StateChanged(string, State, Reason, time.Duration) {}
func (NopNotifier) InterimUpdated(string, string)                     {}
func (NopNotifier) LineCommitted(string, int, TranscriptLine, bool)   {}
func (NopNotifier) SpeakerUpdated(string, Speaker)                    {}
func (NopNotifier) SpeakerRenamed(string, string, string)             {}
func (NopNotifier) Tick(string, time.Duration)                        {}
func (NopNotifier) RecognitionFailed(string, error)                   {}

// MultiNotifier fans notifications out to several notifiers in order.
type MultiNotifier []Notifier

func (m MultiNotifier) StateChanged(id string, state State, reason Reason, elapsed time.Duration) {
	for _, n := range m {
		n.StateChanged(id, state, reason, elapsed)
	}
}

func (m MultiNotifier) InterimUpdated(id string, text string) {
	for _, n := range m {
		n.InterimUpdated(id, text)
	}
}

func (m MultiNotifier) LineCommitted(id string, index int, line TranscriptLine, merged bool) {
	for _, n := range m {
		n.LineCommitted(id, index, line, merged)
	}
}

func (m MultiNotifier) SpeakerUpdated(id string, speaker Speaker) {
	for _, n := range m {
		n.SpeakerUpdated(id, speaker)
	}
}

func (m MultiNotifier) SpeakerRenamed(id string, oldID, newID string) {
	for _, n := range m {
		n.SpeakerRenamed(id, oldID, newID)
	}
}

func (m MultiNotifier) Tick(id string, elapsed time.Duration) {
	for _, n := range m {
		n.Tick(id, elapsed)
	}
}

func (m MultiNotifier) RecognitionFailed(id string, err error) {
	for _, n := range m {
		n.RecognitionFailed(id, err)
	}
}

type rawEncoder struct{}

func (rawEncoder) Encode(_ string, pcm []byte, format AudioFormat) (AudioBlob, error) {
	return AudioBlob{
		MIMEType: "audio/L16",
		Format:   format,
		Duration: pcmDuration(len(pcm), format),
		Data:     pcm,
	}, nil
}

func pcmDuration(size int, format AudioFormat) time.Duration {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return 0
	}
	samples := size / 2 / format.Channels
	return time.Duration(samples) * time.Second / time.Duration(format.SampleRate)
}
