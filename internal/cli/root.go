// Package cli is the conestoga command tree.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "conestoga",
		Short: "A wagon trail game whose events are written on the fly",
		Long: `Conestoga is a terminal trail game. Events and their outcomes are
generated in the background while you travel; when the storyteller is slow or
unreachable the game draws from a hand-written trail book instead.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(out)
	root.AddCommand(newPlayCommand(), newDeckCommand(), newReportCommand(), newVersionCommand())
	return root
}

// Execute runs the command tree against the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCommand(os.Stdout).ExecuteContext(ctx)
}
