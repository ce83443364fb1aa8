// Package history implements `perectl history`.
package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"

	"github.com/peregrine-desk/peregrine/internal/perectl/client"
	"github.com/peregrine-desk/peregrine/internal/perectl/cmd/util"
	"github.com/peregrine-desk/peregrine/internal/perectl/render"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
)

var historyExample = heredoc.Doc(`
	# List all conversations
	perectl history

	# Show the full transcript of one conversation
	perectl history 2f7c41
`)

// NewCmdHistory creates the history command.
func NewCmdHistory(conn *util.ConnectionOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "history [conversation-id]",
		DisableFlagsInUseLine: true,
		Short:                 "Browse the durable transcript",
		Long: `List conversations, or print one conversation's full transcript.

The transcript is read from the daemon's durable log, so it includes turns
completed while no client was attached.`,
		Example: historyExample,
		Args:    cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 {
				util.CheckErr(listConversations(cmd.Context(), conn))
				return
			}
			util.CheckErr(showTranscript(cmd.Context(), conn, args[0]))
		},
	}
	return cmd
}

func listConversations(ctx context.Context, conn *util.ConnectionOptions) error {
	convs, err := conn.Client().ListConversations(ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("No conversations yet.")
		return nil
	}

	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("ID", "TITLE", "TURNS", "TOKENS", "COST", "STATE", "UPDATED")
	for _, conv := range convs {
		tokens := int64(0)
		if conv.Usage != nil {
			tokens = conv.Usage.TotalTokens
		}
		state := "idle"
		if conv.Active {
			state = color.GreenString("streaming")
		}
		table.AddRow(conv.ID, conv.Title, conv.TurnCount, tokens,
			fmt.Sprintf("$%.4f", conv.CostUSD), state, conv.UpdatedAt)
	}
	fmt.Println(table)
	return nil
}

func showTranscript(ctx context.Context, conn *util.ConnectionOptions, conversationID string) error {
	msgs, err := conn.Client().ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}

	userLabel := color.New(color.FgBlue, color.Bold)
	assistantLabel := color.New(color.FgMagenta, color.Bold)
	dim := color.New(color.Faint)

	for _, msg := range msgs {
		render.Separator()
		switch msg.Role {
		case entity.RoleUser:
			userLabel.Print("you")
		default:
			assistantLabel.Print("peregrine")
		}
		if msg.Synthetic {
			dim.Print("  (synthetic)")
		}
		fmt.Printf("  %s\n", dim.Sprint(msg.Timestamp))
		printBlocks(msg, dim)
	}
	return nil
}

func printBlocks(msg client.TranscriptMessage, dim *color.Color) {
	for _, b := range msg.Content {
		switch b.Type {
		case entity.BlockText:
			if msg.Role == entity.RoleAssistant {
				fmt.Println(render.Markdown(b.Text, render.TermWidth()-4))
			} else {
				fmt.Println(wordwrap.WrapString(b.Text, uint(render.TermWidth()-2)))
			}
		case entity.BlockThinking:
			dim.Println(b.Thinking)
		case entity.BlockToolUse:
			dim.Printf("* %s %s\n", b.ToolName, truncate(b.Input, 120))
		case entity.BlockToolResult:
			dim.Printf("  -> %s\n", truncate(b.Result, 200))
		}
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
