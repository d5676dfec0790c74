package meeting

import "time"

// State models the recording lifecycle of a meeting session.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

// Reason gives a structured cause for a state change.
type Reason string

const (
	ReasonCreated Reason = "session_created"
	ReasonStarted Reason = "recording_started"
	ReasonPaused  Reason = "recording_paused"
	ReasonResumed Reason = "recording_resumed"
	ReasonStopped Reason = "recording_stopped"
)

// SpeechEvent is one recognition result as emitted by the recognition stream.
type SpeechEvent struct {
	ResultIndex int       `json:"result_index"`
	IsFinal     bool      `json:"is_final"`
	Text        string    `json:"text"`
	ArrivalTime time.Time `json:"arrival_time"`
}

// RecognitionEvent carries either a speech result or a transient provider error.
type RecognitionEvent struct {
	Speech SpeechEvent
	Err    error
}

// Speaker is a registry entry for one attributed voice.
type Speaker struct {
	ID             string    `json:"id"`
	ColorIndex     int       `json:"color_index"`
	Color          string    `json:"color,omitempty"`
	UtteranceCount int       `json:"utterance_count"`
	LastActive     time.Time `json:"last_active"`
}

// TranscriptLine is a finalized, possibly merged, utterance.
type TranscriptLine struct {
	SpeakerID     string    `json:"speaker_id"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// MeetingInfo is optional metadata supplied when a recording starts.
type MeetingInfo struct {
	Title        string   `json:"title,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// AudioFormat describes raw PCM produced by a capture device.
type AudioFormat struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

// AudioBlob is the finalized recording of a session.
type AudioBlob struct {
	Path     string        `json:"path,omitempty"`
	MIMEType string        `json:"mime_type"`
	Format   AudioFormat   `json:"format"`
	Duration time.Duration `json:"duration"`
	Data     []byte        `json:"-"`
}

// ActionItem is a follow-up extracted into the minutes.
type ActionItem struct {
	Task     string `json:"task"`
	Assignee string `json:"assignee"`
	Deadline string `json:"deadline"`
}

// Minutes is the structured document returned by the minutes service.
type Minutes struct {
	Title       string       `json:"title,omitempty"`
	Agenda      []string     `json:"agenda,omitempty"`
	Discussion  string       `json:"discussion,omitempty"`
	Decisions   []string     `json:"decisions,omitempty"`
	ActionItems []ActionItem `json:"action_items,omitempty"`
	NextMeeting string       `json:"next_meeting,omitempty"`
}

// MinutesRequest is what the controller hands to the minutes service.
type MinutesRequest struct {
	SessionID string           `json:"session_id"`
	Info      MeetingInfo      `json:"info"`
	Audio     *AudioBlob       `json:"audio,omitempty"`
	Lines     []TranscriptLine `json:"lines"`
	Speakers  []Speaker        `json:"speakers"`
}

// Status is a read-only view of the current session.
type Status struct {
	SessionID      string        `json:"session_id"`
	State          State         `json:"state"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
	Elapsed        time.Duration `json:"-"`
	ElapsedMS      int64         `json:"elapsed_ms"`
	CurrentSpeaker string        `json:"current_speaker,omitempty"`
	Lines          int           `json:"lines"`
	Speakers       int           `json:"speakers"`
	Interim        string        `json:"interim,omitempty"`
}

// StopResult is returned once a session is stopped.
type StopResult struct {
	SessionID string           `json:"session_id"`
	Elapsed   time.Duration    `json:"-"`
	ElapsedMS int64            `json:"elapsed_ms"`
	Audio     *AudioBlob       `json:"audio,omitempty"`
	Lines     []TranscriptLine `json:"lines"`
	Speakers  []Speaker        `json:"speakers"`
	Minutes   *Minutes         `json:"minutes,omitempty"`
}

// SessionRecord is the archived form of a stopped session.
type SessionRecord struct {
	SessionID string
	Info      MeetingInfo
	StartedAt time.Time
	StoppedAt time.Time
	Elapsed   time.Duration
	Audio     *AudioBlob
	Lines     []TranscriptLine
	Speakers  []Speaker
	Minutes   *Minutes
}
