// Package ask implements `perectl ask`.
package ask

import (
	"context"
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/peregrine-desk/peregrine/internal/perectl/cmd/util"
	"github.com/peregrine-desk/peregrine/internal/perectl/follow"
	"github.com/peregrine-desk/peregrine/internal/perectl/render"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
)

var askExample = heredoc.Doc(`
	# Start a new conversation
	perectl ask "Summarize the open pull requests"

	# Continue an existing conversation
	perectl ask --conversation=2f7c41 "And what about the oldest one?"

	# Talk to a specific daemon
	perectl ask --server=http://localhost:11777 "Hello"
`)

// AskOptions holds the flags for the ask command.
type AskOptions struct {
	ConversationID string

	conn *util.ConnectionOptions
}

// NewCmdAsk creates the ask command.
func NewCmdAsk(conn *util.ConnectionOptions) *cobra.Command {
	o := &AskOptions{conn: conn}

	cmd := &cobra.Command{
		Use:                   "ask <prompt>",
		DisableFlagsInUseLine: true,
		Short:                 "Start an agent turn and stream the reply",
		Long: `Send a prompt to the daemon and stream the agent's reply to the terminal.

The turn keeps running on the daemon even if this command is interrupted;
use 'perectl attach' to pick the stream back up.`,
		Example: askExample,
		Args:    cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			util.CheckErr(o.Run(cmd.Context(), args))
		},
	}

	cmd.Flags().StringVar(&o.ConversationID, "conversation", o.ConversationID, "Conversation ID to continue (default: start a new one)")

	return cmd
}

// Run executes the ask command.
func (o *AskOptions) Run(ctx context.Context, args []string) error {
	prompt := strings.Join(args, " ")

	stream, err := o.conn.Client().Dial(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Send(&entity.ClientCommand{
		Type:           entity.ClientCommandQuery,
		ConversationID: o.ConversationID,
		Prompt:         prompt,
	}); err != nil {
		return fmt.Errorf("send query: %w", err)
	}

	// The daemon acks with the (possibly generated) conversation id before
	// any worker events arrive.
	first, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("stream closed: %w", err)
	}
	if first.Type == entity.EventError && first.Error != nil {
		return fmt.Errorf("%s", first.Error.Message)
	}
	conversationID := first.ConversationID

	render.UserLabel(prompt)
	render.AssistantLabel()

	if err := follow.Run(stream, conversationID); err != nil {
		return err
	}

	fmt.Println()
	render.Notice("conversation: " + conversationID)
	return nil
}
