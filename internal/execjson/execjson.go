// Package execjson runs helper programs that take a JSON request on stdin and
// answer with JSON on stdout. The STT and LLM exec backends use it.
package execjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

const stderrTail = 1024

// Command is a parsed command line.
type Command struct {
	what string
	argv []string
}

// Parse splits command with shell quoting rules. Environment references such
// as $HOME are expanded. what names the command in errors.
func Parse(what, command string) (Command, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	argv, err := parser.Parse(command)
	if err != nil {
		return Command{}, fmt.Errorf("parse %s command: %w", what, err)
	}
	if len(argv) == 0 {
		return Command{}, fmt.Errorf("%s command is empty", what)
	}
	return Command{what: what, argv: argv}, nil
}

// Argv returns the program followed by its arguments.
func (c Command) Argv() []string {
	return append([]string(nil), c.argv...)
}

// With returns a copy of c with extra arguments appended.
func (c Command) With(extra ...string) Command {
	argv := make([]string, 0, len(c.argv)+len(extra))
	argv = append(argv, c.argv...)
	return Command{what: c.what, argv: append(argv, extra...)}
}

// Run sends input as JSON and decodes a single JSON document from stdout
// into out.
func (c Command) Run(ctx context.Context, input, out any) error {
	got := false
	err := c.Stream(ctx, input, func(raw json.RawMessage) error {
		if got {
			return nil
		}
		got = true
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", c.what, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !got {
		return fmt.Errorf("%s command produced no output", c.what)
	}
	return nil
}

// Stream sends input as JSON and calls next for every JSON value the program
// writes to stdout, in order. A nil input leaves stdin empty.
func (c Command) Stream(ctx context.Context, input any, next func(json.RawMessage) error) error {
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	if input != nil {
		payload, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.what, err)
		}
		cmd.Stdin = bytes.NewReader(payload)
	}
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s command: %w", c.what, err)
	}

	dec := json.NewDecoder(stdout)
	var consumeErr error
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if !errors.Is(err, io.EOF) {
				consumeErr = fmt.Errorf("decode %s response: %w", c.what, err)
			}
			break
		}
		if err := next(raw); err != nil {
			consumeErr = err
			break
		}
	}
	if consumeErr != nil {
		_, _ = io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s command failed: %w: %s", c.what, err, msg)
		}
		return fmt.Errorf("%s command failed: %w", c.what, err)
	}
	return consumeErr
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
