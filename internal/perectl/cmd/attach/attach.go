// Package attach implements `perectl attach`.
package attach

import (
	"context"
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/peregrine-desk/peregrine/internal/perectl/cmd/util"
	"github.com/peregrine-desk/peregrine/internal/perectl/follow"
	"github.com/peregrine-desk/peregrine/internal/perectl/render"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
)

var attachExample = heredoc.Doc(`
	# Re-attach to a conversation that is still streaming
	perectl attach 2f7c41

	# Attach after closing the desktop client mid-turn
	perectl attach --server=http://localhost:11777 2f7c41
`)

// NewCmdAttach creates the attach command.
func NewCmdAttach(conn *util.ConnectionOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "attach <conversation-id>",
		DisableFlagsInUseLine: true,
		Short:                 "Re-attach to a running conversation",
		Long: `Attach to a conversation whose worker is still running.

If a turn is streaming, the daemon replays the in-progress message state
first, then continues with live events; nothing is lost or duplicated. Any
unanswered permission prompt is shown again.`,
		Example: attachExample,
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			util.CheckErr(run(cmd.Context(), conn, args[0]))
		},
	}
	return cmd
}

func run(ctx context.Context, conn *util.ConnectionOptions, conversationID string) error {
	stream, err := conn.Client().Dial(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Send(&entity.ClientCommand{
		Type:           entity.ClientCommandAttach,
		ConversationID: conversationID,
	}); err != nil {
		return fmt.Errorf("send attach: %w", err)
	}

	render.AssistantLabel()
	return follow.Run(stream, conversationID)
}
