package meeting

import "errors"

var (
	// ErrPermissionDenied is returned by Start when the capture device cannot be acquired.
	ErrPermissionDenied = errors.New("audio capture permission denied")
	// ErrSessionActive is returned by Start while a session is recording or paused.
	ErrSessionActive = errors.New("a recording session is already active")
	// ErrMinutesFailed wraps failures of the minutes service.
	ErrMinutesFailed   = errors.New("minutes generation failed")
	ErrEmptyTranscript = errors.New("transcript is empty")
	ErrUnknownSpeaker  = errors.New("unknown speaker")
	ErrSpeakerExists   = errors.New("speaker already exists")
	// ErrNoMinutesService is returned by Summarize when no minutes service is wired.
	ErrNoMinutesService = errors.New("minutes service not configured")
)
