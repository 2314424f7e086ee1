package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	apiconnect "github.com/osa030/storybox/internal/api/connect"
	"github.com/osa030/storybox/internal/domain/story"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7aa2f7"))
	currentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#9ece6a"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68"))
	labelStyle   = lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("#a9b1d6"))
)

// renderStatus writes the queue and playback state.
func renderStatus(w io.Writer, st *apiconnect.GetStatusResponse, now time.Time) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Queue (%d)", len(st.Entries))))
	if len(st.Entries) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  (empty)"))
	}
	for i, s := range st.Entries {
		fmt.Fprintln(w, renderEntry(i, s, i == st.CurrentIndex, now))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, labelStyle.Render("state")+st.State)
	fmt.Fprintln(w, labelStyle.Render("local")+renderPlayback(st.Playback))
	fmt.Fprintln(w, labelStyle.Render("remote")+renderRemote(st.Remote, now))
	fmt.Fprintln(w, labelStyle.Render("flags")+renderFlags(st))
}

func renderEntry(i int, s story.Story, current bool, now time.Time) string {
	marker := "  "
	if current {
		marker = "▶ "
	}
	fav := " "
	if s.Favorite {
		fav = "★"
	}
	line := fmt.Sprintf("%s%2d %s %-8s %s", marker, i, fav, s.ID, s.Title())
	if !s.CreatedAt.IsZero() {
		line += mutedStyle.Render("  " + humanize.RelTime(s.CreatedAt, now, "ago", "from now"))
	}

	switch {
	case current:
		return currentStyle.Render(line)
	case !s.Playable():
		return mutedStyle.Render(line + "  (no audio)")
	default:
		return line
	}
}

func renderPlayback(p apiconnect.PlaybackInfo) string {
	if p.State == "idle" {
		return mutedStyle.Render("idle")
	}
	parts := []string{
		p.State,
		p.StoryID,
		formatPosition(p.PositionMS) + "/" + formatPosition(p.DurationMS),
		fmt.Sprintf("vol %d%%", int(p.Volume*100+0.5)),
	}
	if p.Muted {
		parts = append(parts, "muted")
	}
	if p.Rate != 1 {
		parts = append(parts, fmt.Sprintf("%.2gx", p.Rate))
	}
	return strings.Join(parts, "  ")
}

func renderRemote(r apiconnect.RemoteInfo, now time.Time) string {
	var s string
	switch {
	case !r.Known:
		s = mutedStyle.Render("unknown")
	case r.Playing:
		s = "playing " + r.StoryID
	default:
		s = "stopped"
	}
	if r.Busy {
		s += "  (command pending)"
	}
	if !r.LastUpdated.IsZero() {
		s += mutedStyle.Render("  updated " + humanize.RelTime(r.LastUpdated, now, "ago", "from now"))
	}
	if r.CommandError != "" {
		s += "  " + warnStyle.Render("last command failed: "+r.CommandError)
	}
	if r.Offline {
		s += "  " + warnStyle.Render(fmt.Sprintf("offline (%d failures: %s)", r.ConsecutiveFailures, r.LastError))
	}
	return s
}

func renderFlags(st *apiconnect.GetStatusResponse) string {
	return fmt.Sprintf("shuffle=%s repeat=%s polling=%s", onOff(st.Shuffle), onOff(st.RepeatAll), onOff(st.Visible))
}

// renderLibrary writes the library listing.
func renderLibrary(w io.Writer, stories []story.Story, now time.Time) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Library (%d)", len(stories))))
	for i, s := range stories {
		fmt.Fprintln(w, renderEntry(i, s, false, now))
	}
}

func formatPosition(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
