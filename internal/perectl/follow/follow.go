// Package follow drives one live turn: it reads the daemon's event stream,
// renders it, and answers permission prompts from stdin.
package follow

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/peregrine-desk/peregrine/internal/perectl/client"
	"github.com/peregrine-desk/peregrine/internal/perectl/render"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
)

// Run consumes events until the turn terminates or the stream dies. The
// conversation id is returned so callers can print it for later re-attach.
func Run(s *client.Stream, conversationID string) error {
	streamer := render.NewStreamer()
	stdin := bufio.NewScanner(os.Stdin)

	for {
		ev, err := s.Recv()
		if err != nil {
			return fmt.Errorf("stream closed: %w", err)
		}

		if ev.Type == entity.EventPermissionRequest && ev.Permission != nil {
			if err := answerPermission(s, stdin, ev); err != nil {
				return err
			}
			continue
		}

		if done := streamer.HandleEvent(ev); done {
			return nil
		}
	}
}

func answerPermission(s *client.Stream, stdin *bufio.Scanner, ev *entity.Event) error {
	p := ev.Permission
	fmt.Println()
	fmt.Printf("Allow tool %q", p.ToolName)
	if p.Input != "" {
		fmt.Printf(" with input %s", p.Input)
	}
	fmt.Print("? [y/N/a(lways)] ")

	answer := ""
	if stdin.Scan() {
		answer = strings.ToLower(strings.TrimSpace(stdin.Text()))
	}

	cmd := &entity.ClientCommand{
		Type:           entity.ClientCommandPermissionResponse,
		ConversationID: ev.ConversationID,
		RequestID:      p.RequestID,
	}
	switch answer {
	case "y", "yes":
		cmd.Approved = true
	case "a", "always":
		cmd.Approved = true
		cmd.ApproveAll = true
	}
	return s.Send(cmd)
}
