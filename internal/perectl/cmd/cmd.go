// Package cmd assembles the perectl command tree.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/peregrine-desk/peregrine/internal/perectl/cmd/abort"
	"github.com/peregrine-desk/peregrine/internal/perectl/cmd/ask"
	"github.com/peregrine-desk/peregrine/internal/perectl/cmd/attach"
	"github.com/peregrine-desk/peregrine/internal/perectl/cmd/history"
	"github.com/peregrine-desk/peregrine/internal/perectl/cmd/util"
)

// NewDefaultPerectlCommand creates the `perectl` command with default arguments.
func NewDefaultPerectlCommand() *cobra.Command {
	cmds := &cobra.Command{
		Use:   "perectl",
		Short: "perectl talks to a running peregrined daemon",
		Long: `perectl is the terminal client for the peregrined streaming daemon.

It can start agent turns, re-attach to conversations that are still
streaming, browse the durable transcript, and abort in-flight turns.`,
		Run: runHelp,
	}

	connOpts := util.NewConnectionOptions()
	connOpts.AddFlags(cmds.PersistentFlags())

	cmds.AddCommand(ask.NewCmdAsk(connOpts))
	cmds.AddCommand(attach.NewCmdAttach(connOpts))
	cmds.AddCommand(history.NewCmdHistory(connOpts))
	cmds.AddCommand(abort.NewCmdAbort(connOpts))

	return cmds
}

func runHelp(cmd *cobra.Command, args []string) {
	_ = cmd.Help()
}
