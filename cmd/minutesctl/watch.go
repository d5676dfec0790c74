package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3b82f6"))
	recStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ef4444"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	interimStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#f59e0b"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
)

func newWatchCommand(c *cli) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live transcript in the terminal",
		Long: `Follow the live transcript in the terminal.

Keys:
  space  pause or resume the recording
  s      switch to a new speaker
  q      quit (the recording keeps running)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := tea.NewProgram(newWatchModel(c.client(), interval), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Refresh interval")
	return cmd
}

// snapshotMsg carries one poll of the daemon.
type snapshotMsg struct {
	status   meeting.Status
	lines    []meeting.TranscriptLine
	speakers []meeting.Speaker
}

type pollErrorMsg struct{ err error }

type pollTickMsg struct{}

type watchModel struct {
	client   *apiClient
	interval time.Duration

	status meeting.Status
	lines  []meeting.TranscriptLine
	colors map[string]string
	err    string

	width  int
	height int
}

func newWatchModel(client *apiClient, interval time.Duration) watchModel {
	if interval <= 0 {
		interval = time.Second
	}
	return watchModel{client: client, interval: interval, colors: map[string]string{}}
}

func (m watchModel) Init() tea.Cmd {
	return m.poll()
}

func (m watchModel) poll() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx := context.Background()
		var snap snapshotMsg
		if err := client.call(ctx, http.MethodGet, "/v1/meeting/status", nil, &snap.status); err != nil {
			return pollErrorMsg{err: err}
		}
		if err := client.call(ctx, http.MethodGet, "/v1/meeting/transcript", nil, &snap.lines); err != nil {
			return pollErrorMsg{err: err}
		}
		if err := client.call(ctx, http.MethodGet, "/v1/meeting/speakers", nil, &snap.speakers); err != nil {
			return pollErrorMsg{err: err}
		}
		return snap
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return pollTickMsg{} })
}

// action posts to a meeting endpoint and polls again right after.
func (m watchModel) action(path string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		if _, err := client.do(context.Background(), http.MethodPost, path, nil); err != nil {
			return pollErrorMsg{err: err}
		}
		return pollTickMsg{}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		m.status = msg.status
		m.lines = msg.lines
		for _, sp := range msg.speakers {
			m.colors[sp.ID] = sp.Color
		}
		m.err = ""
		return m, m.tick()

	case pollErrorMsg:
		m.err = msg.err.Error()
		return m, m.tick()

	case pollTickMsg:
		return m, m.poll()
	}
	return m, nil
}

func (m watchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit
	case " ":
		switch m.status.State {
		case meeting.StateRecording:
			return m, m.action("/v1/meeting/pause")
		case meeting.StatePaused:
			return m, m.action("/v1/meeting/resume")
		}
	case "s":
		if m.status.State == meeting.StateRecording || m.status.State == meeting.StatePaused {
			return m, m.action("/v1/meeting/speakers/switch")
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	state := dimStyle.Render(strings.ToUpper(string(m.status.State)))
	if m.status.State == meeting.StateRecording {
		state = recStyle.Render("● REC")
	}
	fmt.Fprintf(&b, "%s  %s  %s", titleStyle.Render("MINUTES"), state, formatMS(m.status.ElapsedMS))
	if m.status.CurrentSpeaker != "" {
		fmt.Fprintf(&b, "  %s", m.speaker(m.status.CurrentSpeaker))
	}
	b.WriteString("\n\n")

	lines := m.lines
	if visible := m.visibleLines(); len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}
	if len(lines) == 0 && m.status.Interim == "" {
		b.WriteString(dimStyle.Render("Waiting for speech..."))
		b.WriteString("\n")
	}
	for _, l := range lines {
		fmt.Fprintf(&b, "%s %s\n", m.speaker(l.SpeakerID), l.Text)
	}
	if m.status.Interim != "" {
		b.WriteString(interimStyle.Render(m.status.Interim))
		b.WriteString("\n")
	}

	if m.err != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.err))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("space pause/resume · s switch speaker · q quit"))
	return b.String()
}

func (m watchModel) speaker(id string) string {
	style := lipgloss.NewStyle().Bold(true)
	if color := m.colors[id]; color != "" {
		style = style.Foreground(lipgloss.Color(color))
	}
	return style.Render(id + ":")
}

// visibleLines leaves room for the header, interim line, error and footer.
func (m watchModel) visibleLines() int {
	if m.height == 0 {
		return 20
	}
	return max(3, m.height-8)
}
