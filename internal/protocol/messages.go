package protocol

import "time"

// AudioFrame carries PCM from a capture source. Final marks the end of an
// utterance as detected by the source's silence segmenter.
type AudioFrame struct {
	SourceID   string `json:"source_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SourceID   string    `json:"source_id"`
	Utterance  int       `json:"utterance"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// TranscriptError reports a recognizer failure for one utterance.
type TranscriptError struct {
	SourceID  string    `json:"source_id"`
	Utterance int       `json:"utterance"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// MeetingState is published on every session state transition.
type MeetingState struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Reason    string    `json:"reason"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// MeetingLine is published when a transcript line is appended or extended.
type MeetingLine struct {
	SessionID     string    `json:"session_id"`
	Index         int       `json:"index"`
	SpeakerID     string    `json:"speaker_id"`
	Text          string    `json:"text"`
	Merged        bool      `json:"merged"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type MeetingInterim struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// MeetingSpeaker is published when a speaker is registered, updated or renamed.
type MeetingSpeaker struct {
	SessionID      string    `json:"session_id"`
	SpeakerID      string    `json:"speaker_id"`
	PreviousID     string    `json:"previous_id,omitempty"`
	Color          string    `json:"color,omitempty"`
	UtteranceCount int       `json:"utterance_count"`
	LastActive     time.Time `json:"last_active"`
}

type MeetingTick struct {
	SessionID string `json:"session_id"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type MeetingError struct {
	SessionID string    `json:"session_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectTranscriptError   = "stt.text.error"
	SubjectTranscriptAll     = "stt.text.>"

	SubjectMeetingState   = "meeting.state"
	SubjectMeetingLine    = "meeting.line"
	SubjectMeetingInterim = "meeting.interim"
	SubjectMeetingSpeaker = "meeting.speaker"
	SubjectMeetingTick    = "meeting.tick"
	SubjectMeetingError   = "meeting.error"
)

// AudioFrameSubject is the subject a source publishes its frames on.
func AudioFrameSubject(sourceID string) string {
	return SubjectAudioFramePrefix + "." + sourceID
}
