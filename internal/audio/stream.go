package audio

import (
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

// pcmStream is the meeting.AudioStream shared by the capture backends. A
// single producer goroutine feeds it through emit.
type pcmStream struct {
	format meeting.AudioFormat
	chunks chan []byte
	done   chan struct{}
	paused atomic.Bool

	producerDone chan struct{}
	teardown     func() error

	releaseOnce sync.Once
	releaseErr  error
}

func newStream(format meeting.AudioFormat, teardown func() error) *pcmStream {
	return &pcmStream{
		format:       format,
		chunks:       make(chan []byte, 32),
		done:         make(chan struct{}),
		producerDone: make(chan struct{}),
		teardown:     teardown,
	}
}

func (s *pcmStream) run(produce func()) {
	go func() {
		defer close(s.producerDone)
		produce()
	}()
}

// emit hands a chunk to the consumer. Chunks are dropped while paused. It
// returns false once the stream is released.
func (s *pcmStream) emit(chunk []byte) bool {
	if s.paused.Load() {
		select {
		case <-s.done:
			return false
		default:
			return true
		}
	}
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

func (s *pcmStream) Format() meeting.AudioFormat { return s.format }

func (s *pcmStream) Chunks() <-chan []byte { return s.chunks }

func (s *pcmStream) Pause() error {
	s.paused.Store(true)
	return nil
}

func (s *pcmStream) Resume() error {
	s.paused.Store(false)
	return nil
}

func (s *pcmStream) Release() error {
	s.releaseOnce.Do(func() {
		close(s.done)
		if s.teardown != nil {
			s.releaseErr = s.teardown()
		}
		<-s.producerDone
		close(s.chunks)
	})
	return s.releaseErr
}
