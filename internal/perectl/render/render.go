// Package render turns the daemon's event stream into terminal output.
// Direct ANSI output, no alt-screen: streamed text stays selectable and
// scrolls naturally.
package render

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
)

// ANSI color helpers using raw escape codes. No OSC queries, no termenv auto-detect.
var (
	colorReset      = "\033[0m"
	colorBold       = "\033[1m"
	colorDim        = "\033[2m"
	colorOrangeANSI = "\033[38;5;208m"
	colorBlueANSI   = "\033[38;5;39m"
	colorPinkANSI   = "\033[38;5;212m"
	colorGrayANSI   = "\033[38;5;241m"
	colorRedANSI    = "\033[38;5;196m"
)

// TermWidth returns the current terminal width, defaulting to 80.
func TermWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// Separator prints a dim horizontal rule.
func Separator() {
	w := TermWidth()
	n := w - 2
	if n < 20 {
		n = 20
	}
	fmt.Printf("%s%s%s\n", colorGrayANSI, strings.Repeat("-", n), colorReset)
}

// UserLabel prints the user message header plus the message itself.
func UserLabel(msg string) {
	Separator()
	fmt.Printf("%s%syou%s\n", colorBold, colorBlueANSI, colorReset)
	fmt.Printf("%s%s%s\n", colorBlueANSI, msg, colorReset)
}

// AssistantLabel prints the assistant header.
func AssistantLabel() {
	Separator()
	fmt.Printf("%s%speregrine%s\n", colorBold, colorPinkANSI, colorReset)
}

// Error prints an error message.
func Error(msg string) {
	fmt.Printf("%s%sError: %s%s\n", colorBold, colorRedANSI, msg, colorReset)
}

// Notice prints a dim one-line status notice.
func Notice(msg string) {
	fmt.Printf("%s%s%s\n", colorGrayANSI, msg, colorReset)
}

// Markdown renders markdown content for terminal display.
func Markdown(content string, width int) string {
	if width <= 0 {
		width = 76
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithColorProfile(termenv.ANSI256),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// Streamer renders one conversation's live event stream. It tracks how much
// raw text it printed for the current turn so the final assistant message can
// replace it with a markdown-rendered version.
type Streamer struct {
	started  bool
	rawTurn  strings.Builder
	thinking bool
}

// NewStreamer creates a stream renderer.
func NewStreamer() *Streamer {
	return &Streamer{}
}

// HandleEvent renders one event. It returns true when the event terminates
// the turn (completion, error, aborted).
func (s *Streamer) HandleEvent(ev *entity.Event) bool {
	switch ev.Type {
	case entity.EventLifecycle:
		if ev.Lifecycle != nil && ev.Lifecycle.Stage == "persistence_warning" {
			Notice("warning: " + ev.Lifecycle.Detail)
		}

	case entity.EventStreamDelta:
		s.handleDelta(ev.Delta)

	case entity.EventAssistantMessage:
		s.finishAssistant(ev.Message)

	case entity.EventUserMessage:
		// Replayed or synthetic content during resync; tool results are not
		// echoed in the live view.

	case entity.EventSubtaskProgress:
		if ev.Subtask != nil && ev.Subtask.Description != "" {
			Notice(fmt.Sprintf("  %s (%.1fs)", ev.Subtask.Description, float64(ev.Subtask.ElapsedMillis)/1000))
		}

	case entity.EventPermissionRequest:
		// Handled by the command loop, which owns stdin.

	case entity.EventCompletion:
		s.closeThinking()
		if ev.Completion != nil {
			summary := fmt.Sprintf("done (%.1fs", float64(ev.Completion.DurationMillis)/1000)
			if ev.Completion.Usage != nil {
				summary += fmt.Sprintf(", %d tokens", ev.Completion.Usage.TotalTokens)
			}
			if ev.Completion.CostUSD > 0 {
				summary += fmt.Sprintf(", $%.4f", ev.Completion.CostUSD)
			}
			summary += ")"
			fmt.Println()
			Notice(summary)
		}
		return true

	case entity.EventError:
		s.closeThinking()
		fmt.Println()
		if ev.Error != nil {
			Error(ev.Error.Message)
		} else {
			Error("worker failed")
		}
		return true

	case entity.EventAborted:
		s.closeThinking()
		fmt.Println()
		Notice("aborted")
		return true
	}
	return false
}

func (s *Streamer) handleDelta(d *entity.DeltaPayload) {
	if d == nil {
		return
	}
	switch d.Kind {
	case entity.DeltaMessageStart:
		s.rawTurn.Reset()
		s.started = true
		if d.Resync {
			// Re-attach mid-turn: print what streamed before we arrived.
			for _, b := range d.Blocks {
				switch b.Type {
				case entity.BlockText:
					fmt.Print(b.Text)
					s.rawTurn.WriteString(b.Text)
				case entity.BlockThinking:
					fmt.Printf("%s%s%s", colorDim, b.Thinking, colorReset)
				case entity.BlockToolUse:
					Notice("* " + b.ToolName)
				}
			}
		}

	case entity.DeltaBlockStart:
		s.closeThinking()
		switch d.BlockType {
		case entity.BlockToolUse:
			Notice("* " + d.ToolName)
		case entity.BlockThinking:
			s.thinking = true
			fmt.Print(colorDim)
		}

	case entity.DeltaText:
		fmt.Print(d.Text)
		s.rawTurn.WriteString(d.Text)

	case entity.DeltaThinking:
		fmt.Print(d.Text)

	case entity.DeltaInputJSON:
		// Tool input fragments are noise in the terminal view.

	case entity.DeltaBlockStop:
		s.closeThinking()

	case entity.DeltaMessageStop:
		s.closeThinking()
	}
}

// finishAssistant replaces the raw streamed text with a markdown rendering
// when the final message is plain text.
func (s *Streamer) finishAssistant(msg *entity.MessagePayload) {
	if msg == nil {
		return
	}
	s.closeThinking()

	var text strings.Builder
	onlyText := true
	for _, b := range msg.Content {
		switch b.Type {
		case entity.BlockText:
			text.WriteString(b.Text)
		case entity.BlockThinking:
			// Not re-rendered.
		default:
			onlyText = false
		}
	}
	if !onlyText || text.Len() == 0 {
		return
	}

	raw := s.rawTurn.String()
	if raw != "" {
		rawLines := strings.Count(raw, "\n") + 1
		for i := 0; i < rawLines; i++ {
			fmt.Print("\033[A\033[K")
		}
	}
	fmt.Println(Markdown(text.String(), TermWidth()-4))
	s.rawTurn.Reset()
}

func (s *Streamer) closeThinking() {
	if s.thinking {
		fmt.Print(colorReset)
		fmt.Println()
		s.thinking = false
	}
}
