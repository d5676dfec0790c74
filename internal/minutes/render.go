package minutes

import (
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

// Export bundles minutes with the meeting metadata printed in their header.
type Export struct {
	Minutes   meeting.Minutes
	Info      meeting.MeetingInfo
	StartedAt time.Time
}

const untitled = "Untitled meeting"

// Render formats e as "markdown" or "text" and returns the body with its
// content type.
func Render(format string, e Export) (string, string, error) {
	switch format {
	case "", "markdown", "md":
		return Markdown(e), "text/markdown; charset=utf-8", nil
	case "text", "txt":
		return Text(e), "text/plain; charset=utf-8", nil
	default:
		return "", "", fmt.Errorf("unsupported minutes format %q", format)
	}
}

func Markdown(e Export) string {
	var b strings.Builder
	b.WriteString("# Meeting minutes\n\n")
	fmt.Fprintf(&b, "**Title:** %s\n\n", e.title())
	fmt.Fprintf(&b, "**Date:** %s\n\n", e.date())
	fmt.Fprintf(&b, "**Participants:** %s\n\n", strings.Join(e.Info.Participants, ", "))

	b.WriteString("## Agenda\n\n")
	for _, item := range e.Minutes.Agenda {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	fmt.Fprintf(&b, "\n## Discussion\n\n%s\n\n", e.Minutes.Discussion)

	b.WriteString("## Decisions\n\n")
	for _, item := range e.Minutes.Decisions {
		fmt.Fprintf(&b, "- %s\n", item)
	}

	b.WriteString("\n## Action items\n\n")
	b.WriteString("| Task | Assignee | Deadline |\n")
	b.WriteString("|------|----------|----------|\n")
	for _, item := range e.Minutes.ActionItems {
		if item.Task == "" {
			continue
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(item.Task), cell(item.Assignee), cell(item.Deadline))
	}
	fmt.Fprintf(&b, "\n## Next meeting\n\n%s\n", e.nextMeeting())
	return b.String()
}

func Text(e Export) string {
	rule := strings.Repeat("-", 30)
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting minutes\n%s\n\n", strings.Repeat("=", 50))
	fmt.Fprintf(&b, "Title: %s\n", e.title())
	fmt.Fprintf(&b, "Date: %s\n", e.date())
	fmt.Fprintf(&b, "Participants: %s\n\n", strings.Join(e.Info.Participants, ", "))

	fmt.Fprintf(&b, "Agenda\n%s\n", rule)
	for i, item := range e.Minutes.Agenda {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	fmt.Fprintf(&b, "\nDiscussion\n%s\n%s\n\n", rule, e.Minutes.Discussion)

	fmt.Fprintf(&b, "Decisions\n%s\n", rule)
	for i, item := range e.Minutes.Decisions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}

	fmt.Fprintf(&b, "\nAction items\n%s\n", rule)
	for _, item := range e.Minutes.ActionItems {
		if item.Task == "" {
			continue
		}
		fmt.Fprintf(&b, "* %s (assignee: %s, deadline: %s)\n", item.Task, item.Assignee, item.Deadline)
	}
	fmt.Fprintf(&b, "\nNext meeting: %s\n", e.nextMeeting())
	return b.String()
}

func (e Export) title() string {
	switch {
	case e.Minutes.Title != "":
		return e.Minutes.Title
	case e.Info.Title != "":
		return e.Info.Title
	default:
		return untitled
	}
}

func (e Export) date() string {
	if e.StartedAt.IsZero() {
		return ""
	}
	return e.StartedAt.Format("2006-01-02 15:04")
}

func (e Export) nextMeeting() string {
	if e.Minutes.NextMeeting == "" {
		return "TBD"
	}
	return e.Minutes.NextMeeting
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
