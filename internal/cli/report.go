package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/audit"
	"github.com/tatianab/conestoga/internal/config"
	"github.com/tatianab/conestoga/internal/models"
)

func newReportCommand() *cobra.Command {
	var (
		db  string
		run string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if db == "" {
				cfg, err := config.LoadConfig()
				if err != nil {
					return err
				}
				db = cfg.AuditDB
			}
			if db == "" {
				return fmt.Errorf("no audit database: set CONESTOGA_AUDIT_DB or --db")
			}
			store, err := audit.Open(db, "", zap.NewNop())
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			counts, err := store.Summary(ctx)
			if err != nil {
				return err
			}
			reasons := make([]string, 0, len(counts))
			for r := range counts {
				reasons = append(reasons, string(r))
			}
			slices.Sort(reasons)
			fmt.Fprintln(out, "Trail book fallbacks:")
			if len(reasons) == 0 {
				fmt.Fprintln(out, "  none")
			}
			for _, r := range reasons {
				fmt.Fprintf(out, "  %-16s %d\n", r, counts[models.Reason(r)])
			}

			res, err := store.Resolutions(ctx, run)
			if err != nil {
				return err
			}
			var committed, aborted int
			for _, r := range res {
				if r.Outcome == models.OutcomeAborted {
					aborted++
				} else {
					committed++
				}
			}
			fmt.Fprintf(out, "Resolutions: %d committed, %d aborted\n", committed, aborted)
			for _, r := range res {
				if r.Outcome == models.OutcomeAborted {
					fmt.Fprintf(out, "  day %d %s/%s: effect %d: %s\n", r.Day, r.EventID, r.ChoiceID, r.EffectIndex, r.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "audit database (defaults to CONESTOGA_AUDIT_DB)")
	cmd.Flags().StringVar(&run, "run", "", "only this run id")
	return cmd
}
