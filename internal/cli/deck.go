package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tatianab/conestoga/internal/content"
	"github.com/tatianab/conestoga/internal/fallback"
	"github.com/tatianab/conestoga/internal/validate"
)

func newDeckCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "deck",
		Short: "Check the trail book against the content rules",
		Long: `Deck encodes every trail book event and outcome the way the storyteller
would send it and runs it through the same validation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pack, err := content.Load(dir)
			if err != nil {
				return err
			}
			val, err := validate.New(pack.Catalog)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			issues := fallback.Lint(pack.Deck, val)
			for _, is := range issues {
				where := is.EventID
				if is.ChoiceID != "" {
					where += "/" + is.ChoiceID
				}
				fmt.Fprintf(out, "%s: %s\n", where, strings.Join(is.Errors, "; "))
			}
			if len(issues) > 0 {
				return fmt.Errorf("%d deck issues", len(issues))
			}
			fmt.Fprintf(out, "%d events ok\n", len(pack.Deck))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "content", "", "content directory overriding the embedded pack")
	return cmd
}
