package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/meeting"
	"github.com/mattn/go-shellwords"
)

const (
	execStartupGrace = 250 * time.Millisecond
	execStopTimeout  = 1200 * time.Millisecond
)

// ExecCapture runs an external recorder (typically ffmpeg) that writes raw
// s16le PCM to stdout.
type ExecCapture struct {
	args       []string
	format     meeting.AudioFormat
	chunkBytes int
	log        *slog.Logger
}

func NewExecCapture(command string, format meeting.AudioFormat, chunk time.Duration, log *slog.Logger) (*ExecCapture, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse audio command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("audio command is empty")
	}
	chunkBytes := bytesFor(chunk, format)
	if chunkBytes <= 0 {
		chunkBytes = 3200
	}
	return &ExecCapture{args: args, format: format, chunkBytes: chunkBytes, log: log}, nil
}

func (c *ExecCapture) Acquire(ctx context.Context) (meeting.AudioStream, error) {
	// The recorder outlives the request that started it.
	cmd := exec.Command(c.args[0], c.args[1:]...)
	cmd.WaitDelay = 2 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", meeting.ErrPermissionDenied, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", meeting.ErrPermissionDenied, c.args[0], err)
	}

	waitErr := make(chan error, 1)
	proc := &recorderProcess{process: cmd.Process, stdout: stdout, stderr: &stderr, waitErr: waitErr}
	stream := newStream(c.format, proc.stop)
	stream.run(func() {
		for {
			buf := make([]byte, c.chunkBytes)
			n, err := io.ReadFull(stdout, buf)
			if n > 0 && !stream.emit(buf[:n&^1]) {
				return
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
					c.log.Warn("audio recorder read failed", slog.String("error", err.Error()))
				}
				return
			}
		}
	})
	// Wait closes stdout, so it must not run until the reader is finished.
	go func() {
		<-stream.producerDone
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("%w: recorder exited before capture started: %w: %s", meeting.ErrPermissionDenied, err, detail)
		}
		return nil, fmt.Errorf("%w: recorder exited before capture started: %s", meeting.ErrPermissionDenied, detail)
	case <-ctx.Done():
		_ = stream.Release()
		return nil, ctx.Err()
	case <-time.After(execStartupGrace):
	}

	c.log.Info("audio recorder started", slog.String("command", c.args[0]), slog.Int("pid", cmd.Process.Pid))
	return stream, nil
}

type recorderProcess struct {
	process *os.Process
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	waitErr <-chan error
}

// stop interrupts the recorder so it can flush, then kills it if it lingers.
func (p *recorderProcess) stop() error {
	_ = p.process.Signal(os.Interrupt)

	var stopErr error
	select {
	case err, ok := <-p.waitErr:
		if ok {
			stopErr = normalizeStopErr(err)
		}
	case <-time.After(execStopTimeout):
		_ = p.process.Kill()
		// A child of the recorder may still hold the pipe open.
		_ = p.stdout.Close()
		if err, ok := <-p.waitErr; ok {
			stopErr = normalizeStopErr(err)
		}
	}

	if err := p.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && stopErr == nil {
		stopErr = err
	}
	if stopErr != nil && p.stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, strings.TrimSpace(p.stderr.String()))
	}
	return stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func bytesFor(d time.Duration, format meeting.AudioFormat) int {
	frames := int64(format.SampleRate) * int64(d) / int64(time.Second)
	return int(frames) * format.Channels * 2
}
