package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/config"
	"github.com/tatianab/conestoga/internal/logging"
	"github.com/tatianab/conestoga/internal/telemetry"
	"github.com/tatianab/conestoga/internal/tui"
)

type playFlags struct {
	seed    int64
	offline bool
	load    string
	tuning  string
}

func newPlayCommand() *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Start or resume a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			return play(cmd, cfg, f.load)
		},
	}
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "seed for a reproducible run (0 picks one)")
	cmd.Flags().BoolVar(&f.offline, "offline", false, "never call the storyteller")
	cmd.Flags().StringVar(&f.load, "load", "", "resume the named save")
	cmd.Flags().StringVar(&f.tuning, "tuning", "", "tuning YAML overriding the defaults")
	return cmd
}

// apply overrides environment values with the flags given on the command line.
func (f playFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = f.seed
	}
	if flags.Changed("offline") {
		cfg.Offline = f.offline
	}
	if flags.Changed("tuning") {
		cfg.TuningFile = f.tuning
	}
}

func play(cmd *cobra.Command, cfg *config.Config, load string) error {
	ctx := cmd.Context()
	logger, flush, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer flush()
	logger.Debug("config", zap.Any("config", cfg.Redacted()))

	shutdown, err := telemetry.Setup(ctx, "conestoga", cfg.OTelEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	s, err := Open(ctx, cfg, load, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("session close", zap.Error(err))
		}
	}()

	if err := tui.Run(s.Controller, s.SaveDir, s.Items); err != nil {
		return fmt.Errorf("run game: %w", err)
	}
	return nil
}
