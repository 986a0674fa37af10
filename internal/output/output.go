// Package output prints the interactive recorder to a terminal.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/private-scribe/scribe/internal/auth"
)

const meterWidth = 24

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) RecordingStarted(source string) {
	fmt.Fprintf(f.w, "🎙️  Recording from %s\n", source)
	fmt.Fprintf(f.w, "   p + Enter: pause   r + Enter: resume   s + Enter: stop\n")
}

// Meter redraws the current line with the elapsed time and level bar.
func (f *Formatter) Meter(state string, elapsed time.Duration, level uint8) {
	fmt.Fprintf(f.w, "\r%s %s %s", stateIcon(state), formatDuration(elapsed), Bar(level, meterWidth))
}

func (f *Formatter) Paused(elapsed time.Duration) {
	fmt.Fprintf(f.w, "\r⏸️  Paused at %s%s\n", formatDuration(elapsed), strings.Repeat(" ", meterWidth))
}

func (f *Formatter) Resumed() {
	fmt.Fprintf(f.w, "▶️  Resumed\n")
}

func (f *Formatter) RecordingStopped(duration time.Duration, path string) {
	fmt.Fprintf(f.w, "\r⏹️  Recording stopped (%s)%s\n", formatDuration(duration), strings.Repeat(" ", meterWidth))
	fmt.Fprintf(f.w, "💾 Saved: %s\n", path)
}

func (f *Formatter) Transcribing() {
	fmt.Fprintf(f.w, "📝 Transcribing audio...\n")
}

func (f *Formatter) Transcript(text string) {
	fmt.Fprintf(f.w, "✅ Transcript:\n\n%s\n", text)
}

func (f *Formatter) NoSpeech() {
	fmt.Fprintf(f.w, "⚠️  Unable to identify speech in the recording\n")
}

func (f *Formatter) AuthStatus(st auth.Status) {
	if !st.LoggedIn {
		fmt.Fprintf(f.w, "❌ Not logged in\n")
		return
	}
	who := st.Subject
	if who == "" {
		who = "unknown subject"
	}
	switch {
	case st.ExpiresAt == nil:
		fmt.Fprintf(f.w, "✅ Logged in (%s)\n", who)
	case st.Expired:
		fmt.Fprintf(f.w, "⚠️  Logged in as %s, token expired %s\n", who, st.ExpiresAt.Local().Format(time.RFC1123))
	default:
		fmt.Fprintf(f.w, "✅ Logged in as %s until %s\n", who, st.ExpiresAt.Local().Format(time.RFC1123))
	}
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

// Bar renders level (0-255) as a fixed-width bar.
func Bar(level uint8, width int) string {
	filled := int(level) * width / 255
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func stateIcon(state string) string {
	switch state {
	case "recording":
		return "🔴"
	case "paused":
		return "⏸️ "
	default:
		return "⏹️ "
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
