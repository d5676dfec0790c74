package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

type transitionResponse struct {
	Changed bool           `json:"changed"`
	Status  meeting.Status `json:"status"`
}

type stopResponse struct {
	Stopped      bool                `json:"stopped"`
	Result       *meeting.StopResult `json:"result,omitempty"`
	MinutesError string              `json:"minutes_error,omitempty"`
}

type sessionSummary struct {
	SessionID  string    `json:"session_id"`
	Title      string    `json:"title,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	Lines      int       `json:"lines"`
	Speakers   int       `json:"speakers"`
	HasMinutes bool      `json:"has_minutes"`
}

type sessionDetail struct {
	SessionID string                   `json:"session_id"`
	Info      meeting.MeetingInfo      `json:"info"`
	StartedAt time.Time                `json:"started_at"`
	StoppedAt time.Time                `json:"stopped_at"`
	ElapsedMS int64                    `json:"elapsed_ms"`
	Audio     *meeting.AudioBlob       `json:"audio,omitempty"`
	Lines     []meeting.TranscriptLine `json:"lines"`
	Speakers  []meeting.Speaker        `json:"speakers"`
	Minutes   *meeting.Minutes         `json:"minutes,omitempty"`
}

type importResponse struct {
	Session      sessionDetail `json:"session"`
	MinutesError string        `json:"minutes_error,omitempty"`
}

func newStartCommand(c *cli) *cobra.Command {
	var title string
	var participants []string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start recording a new meeting",
		Long: `Start recording a new meeting.

Starting while a previous meeting is stopped discards that meeting's live
state; it stays available through 'minutesctl sessions'.

Examples:
  minutesctl start --title "Weekly sync" --participant Aiko --participant Ben`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), c, title, participants)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Meeting title")
	cmd.Flags().StringArrayVar(&participants, "participant", nil, "Participant name (repeatable)")
	return cmd
}

func runStart(ctx context.Context, c *cli, title string, participants []string) error {
	var status meeting.Status
	body := map[string]any{"title": title, "participants": participants}
	if err := c.client().call(ctx, http.MethodPost, "/v1/meeting/start", body, &status); err != nil {
		return err
	}
	return c.printStatus(status)
}

func newTransitionCommand(c *cli, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp transitionResponse
			if err := c.client().call(cmd.Context(), http.MethodPost, "/v1/meeting/"+name, nil, &resp); err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(resp)
			}
			if !resp.Changed {
				fmt.Fprintf(c.out, "No change: meeting is %s\n", resp.Status.State)
				return nil
			}
			return c.printStatus(resp.Status)
		},
	}
}

func newStopCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the recording and archive the meeting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp stopResponse
			if err := c.client().call(cmd.Context(), http.MethodPost, "/v1/meeting/stop", nil, &resp); err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(resp)
			}
			if !resp.Stopped || resp.Result == nil {
				fmt.Fprintln(c.out, "No active meeting.")
				return nil
			}
			res := resp.Result
			fmt.Fprintf(c.out, "Stopped session %s after %s\n", res.SessionID, formatMS(res.ElapsedMS))
			fmt.Fprintf(c.out, "Lines: %d  Speakers: %d\n", len(res.Lines), len(res.Speakers))
			if res.Audio != nil && res.Audio.Path != "" {
				fmt.Fprintf(c.out, "Audio: %s\n", res.Audio.Path)
			}
			switch {
			case resp.MinutesError != "":
				fmt.Fprintf(c.out, "Minutes failed: %s\n", resp.MinutesError)
			case res.Minutes != nil:
				fmt.Fprintln(c.out, "Minutes generated.")
			}
			return nil
		},
	}
}

func newStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current meeting status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status meeting.Status
			if err := c.client().call(cmd.Context(), http.MethodGet, "/v1/meeting/status", nil, &status); err != nil {
				return err
			}
			return c.printStatus(status)
		},
	}
}

func newTranscriptCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript",
		Short: "Print the live transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var lines []meeting.TranscriptLine
			if err := c.client().call(cmd.Context(), http.MethodGet, "/v1/meeting/transcript", nil, &lines); err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(lines)
			}
			printTranscript(c, lines)
			return nil
		},
	}
}

func newSpeakersCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speakers",
		Short: "List and manage speakers of the current meeting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var speakers []meeting.Speaker
			if err := c.client().call(cmd.Context(), http.MethodGet, "/v1/meeting/speakers", nil, &speakers); err != nil {
				return err
			}
			return c.printSpeakers(speakers)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "switch",
		Short: "Attribute the next utterance to a new speaker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				SpeakerID string `json:"speaker_id"`
			}
			if err := c.client().call(cmd.Context(), http.MethodPost, "/v1/meeting/speakers/switch", nil, &resp); err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(resp)
			}
			fmt.Fprintf(c.out, "Current speaker: %s\n", resp.SpeakerID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <from> <to>",
		Short: "Rename a speaker across the whole transcript",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var speakers []meeting.Speaker
			body := map[string]string{"from": args[0], "to": args[1]}
			if err := c.client().call(cmd.Context(), http.MethodPost, "/v1/meeting/speakers/rename", body, &speakers); err != nil {
				return err
			}
			return c.printSpeakers(speakers)
		},
	})
	return cmd
}

func newThresholdCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "threshold [milliseconds]",
		Short: "Show or set the speaker-change silence threshold",
		Long: `Show or set the silence gap that starts a new speaker.

Values are clamped by the daemon to the 500-10000 ms range; the applied
value is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				ThresholdMS int64 `json:"threshold_ms"`
			}
			client := c.client()
			if len(args) == 0 {
				if err := client.call(cmd.Context(), http.MethodGet, "/v1/meeting/silence-threshold", nil, &resp); err != nil {
					return err
				}
			} else {
				v, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid threshold %q: %w", args[0], err)
				}
				body := map[string]int64{"threshold_ms": v}
				if err := client.call(cmd.Context(), http.MethodPut, "/v1/meeting/silence-threshold", body, &resp); err != nil {
					return err
				}
			}
			if c.jsonOutput() {
				return c.printJSON(resp)
			}
			fmt.Fprintf(c.out, "Silence threshold: %d ms\n", resp.ThresholdMS)
			return nil
		},
	}
}

func newSummarizeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Generate minutes for the current transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var m meeting.Minutes
			if err := c.client().call(cmd.Context(), http.MethodPost, "/v1/meeting/summarize", nil, &m); err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(m)
			}
			fmt.Fprintln(c.out, "Minutes generated. View them with 'minutesctl minutes'.")
			return nil
		},
	}
}

func newMinutesCommand(c *cli) *cobra.Command {
	var format, session string
	cmd := &cobra.Command{
		Use:   "minutes",
		Short: "Print meeting minutes",
		Long: `Print the minutes of the current meeting or an archived session.

Examples:
  minutesctl minutes --format markdown > minutes.md
  minutesctl minutes --session 3f1c... --format text`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/meeting/minutes"
			if session != "" {
				path = "/v1/sessions/" + url.PathEscape(session) + "/minutes"
			}
			if c.jsonOutput() {
				format = "json"
			}
			data, err := c.client().do(cmd.Context(), http.MethodGet, path+"?format="+url.QueryEscape(format), nil)
			if err != nil {
				return err
			}
			_, err = c.out.Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Export format: markdown, text, json")
	cmd.Flags().StringVar(&session, "session", "", "Archived session ID (defaults to the current meeting)")
	return cmd
}

func newSessionsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Browse archived meetings",
	}

	var limit int
	list := &cobra.Command{
		Use:     "list",
		Short:   "List archived meetings, newest first",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessions []sessionSummary
			path := fmt.Sprintf("/v1/sessions?limit=%d", limit)
			if err := c.client().call(cmd.Context(), http.MethodGet, path, nil, &sessions); err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(c.out, "No archived sessions.")
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tSTARTED\tDURATION\tLINES\tSPEAKERS\tMINUTES\tTITLE")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					s.SessionID, s.StartedAt.Local().Format("2006-01-02 15:04"), formatMS(s.ElapsedMS),
					s.Lines, s.Speakers, yesNo(s.HasMinutes), s.Title)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of sessions")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show an archived meeting with its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s sessionDetail
			if err := c.client().call(cmd.Context(), http.MethodGet, "/v1/sessions/"+url.PathEscape(args[0]), nil, &s); err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(s)
			}
			fmt.Fprintf(c.out, "Session:  %s\n", s.SessionID)
			if s.Info.Title != "" {
				fmt.Fprintf(c.out, "Title:    %s\n", s.Info.Title)
			}
			if len(s.Info.Participants) > 0 {
				fmt.Fprintf(c.out, "People:   %s\n", strings.Join(s.Info.Participants, ", "))
			}
			fmt.Fprintf(c.out, "Started:  %s\n", s.StartedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(c.out, "Duration: %s\n", formatMS(s.ElapsedMS))
			fmt.Fprintf(c.out, "Minutes:  %s\n\n", yesNo(s.Minutes != nil))
			printTranscript(c, s.Lines)
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func newImportCommand(c *cli) *cobra.Command {
	var title string
	var participants []string
	cmd := &cobra.Command{
		Use:   "import <file.wav>",
		Short: "Transcribe a recorded meeting and archive it",
		Long: `Upload a 16-bit PCM WAV recording to minutesd. The daemon transcribes it,
attributes speakers by silence gaps, generates minutes when a minutes
service is configured and archives the result as a stopped session. The
live meeting is not affected.

Examples:
  minutesctl import standup.wav --title "Standup" --participant Aiko`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), c, args[0], title, participants)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Meeting title")
	cmd.Flags().StringArrayVar(&participants, "participant", nil, "Participant name (repeatable)")
	return cmd
}

func runImport(ctx context.Context, c *cli, file, title string, participants []string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	query := url.Values{}
	if title != "" {
		query.Set("title", title)
	}
	for _, p := range participants {
		query.Add("participant", p)
	}
	path := "/v1/sessions/import"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp importResponse
	if err := c.client().upload(ctx, path, "audio/wav", f, &resp); err != nil {
		return err
	}
	if c.jsonOutput() {
		return c.printJSON(resp)
	}
	s := resp.Session
	fmt.Fprintf(c.out, "Imported session %s (%s)\n", s.SessionID, formatMS(s.ElapsedMS))
	fmt.Fprintf(c.out, "Lines: %d  Speakers: %d\n", len(s.Lines), len(s.Speakers))
	switch {
	case resp.MinutesError != "":
		fmt.Fprintf(c.out, "Minutes failed: %s\n", resp.MinutesError)
	case s.Minutes != nil:
		fmt.Fprintf(c.out, "Minutes generated. View them with 'minutesctl minutes --session %s'.\n", s.SessionID)
	}
	return nil
}

func (c *cli) printStatus(s meeting.Status) error {
	if c.jsonOutput() {
		return c.printJSON(s)
	}
	fmt.Fprintf(c.out, "State:    %s\n", s.State)
	if s.SessionID != "" {
		fmt.Fprintf(c.out, "Session:  %s\n", s.SessionID)
	}
	fmt.Fprintf(c.out, "Elapsed:  %s\n", formatMS(s.ElapsedMS))
	if s.CurrentSpeaker != "" {
		fmt.Fprintf(c.out, "Speaker:  %s\n", s.CurrentSpeaker)
	}
	fmt.Fprintf(c.out, "Lines:    %d\n", s.Lines)
	fmt.Fprintf(c.out, "Speakers: %d\n", s.Speakers)
	if s.Interim != "" {
		fmt.Fprintf(c.out, "Hearing:  %s\n", s.Interim)
	}
	return nil
}

func (c *cli) printSpeakers(speakers []meeting.Speaker) error {
	if c.jsonOutput() {
		return c.printJSON(speakers)
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SPEAKER\tCOLOR\tUTTERANCES\tLAST ACTIVE")
	for _, s := range speakers {
		last := "-"
		if !s.LastActive.IsZero() {
			last = s.LastActive.Local().Format("15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Color, s.UtteranceCount, last)
	}
	return tw.Flush()
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTranscript(c *cli, lines []meeting.TranscriptLine) {
	if len(lines) == 0 {
		fmt.Fprintln(c.out, "(no transcript yet)")
		return
	}
	start := lines[0].CreatedAt
	for _, l := range lines {
		fmt.Fprintf(c.out, "[%s] %s: %s\n", formatMS(l.CreatedAt.Sub(start).Milliseconds()), l.SpeakerID, l.Text)
	}
}

// formatMS renders milliseconds as HH:MM:SS.
func formatMS(v int64) string {
	secs := v / 1000
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
