// Package main provides the minutesctl command-line client for minutesd.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// cli carries the global flags shared by every subcommand.
type cli struct {
	addr    string
	timeout time.Duration
	output  string
	out     io.Writer
}

func (c *cli) client() *apiClient {
	return newAPIClient(c.addr, c.timeout)
}

func (c *cli) jsonOutput() bool {
	return c.output == "json"
}

func newRootCommand(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	defaultAddr := os.Getenv("MINUTES_ADDR")
	if defaultAddr == "" {
		defaultAddr = "http://localhost:8080"
	}

	root := &cobra.Command{
		Use:   "minutesctl",
		Short: "Control the minutesd meeting recorder",
		Long: `minutesctl drives a running minutesd daemon over its HTTP API.

COMMON WORKFLOWS:
  Record a meeting:   minutesctl start --title "Weekly sync"  →  minutesctl stop
  Fix attribution:    minutesctl speakers rename speaker-1 Aiko
  Live captions:      minutesctl watch
  Export minutes:     minutesctl minutes --format markdown
  Browse the archive: minutesctl sessions list  →  minutesctl sessions show <id>
  Import a recording: minutesctl import standup.wav --title "Standup"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch c.output {
			case "text", "json":
				return nil
			default:
				return fmt.Errorf("unsupported output format %q", c.output)
			}
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.addr, "addr", defaultAddr, "minutesd address (env: MINUTES_ADDR)")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 2*time.Minute, "Request timeout")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "text", "Output format: text, json")

	root.AddCommand(newStartCommand(c))
	root.AddCommand(newTransitionCommand(c, "pause", "Pause the active recording"))
	root.AddCommand(newTransitionCommand(c, "resume", "Resume a paused recording"))
	root.AddCommand(newStopCommand(c))
	root.AddCommand(newStatusCommand(c))
	root.AddCommand(newTranscriptCommand(c))
	root.AddCommand(newSpeakersCommand(c))
	root.AddCommand(newThresholdCommand(c))
	root.AddCommand(newSummarizeCommand(c))
	root.AddCommand(newMinutesCommand(c))
	root.AddCommand(newSessionsCommand(c))
	root.AddCommand(newImportCommand(c))
	root.AddCommand(newWatchCommand(c))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
