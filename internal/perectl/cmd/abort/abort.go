// Package abort implements `perectl abort`.
package abort

import (
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/peregrine-desk/peregrine/internal/perectl/cmd/util"
)

var abortExample = heredoc.Doc(`
	# Abort the in-flight turn of a conversation
	perectl abort 2f7c41
`)

// NewCmdAbort creates the abort command.
func NewCmdAbort(conn *util.ConnectionOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "abort <conversation-id>",
		DisableFlagsInUseLine: true,
		Short:                 "Abort a conversation's in-flight turn",
		Long: `Request cancellation of the turn currently streaming in a conversation.

Abort is advisory: the worker may take a moment to wind down, but the
streaming state is terminated immediately and attached clients see an
aborted event.`,
		Example: abortExample,
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := args[0]
			util.CheckErr(conn.Client().Abort(cmd.Context(), id))
			fmt.Printf("Abort requested for conversation %s.\n", id)
		},
	}
	return cmd
}
