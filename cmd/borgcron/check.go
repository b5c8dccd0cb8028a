package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fhaussmann/borgcron/internal/services/runner"
)

var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"verify", "v"},
	Short:   "Verify repository consistency",
	Long: `Run borg's consistency check against the repository. Also detects stale
locks left behind by interrupted operations.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Check(cmd.Context(), *cfg); err != nil {
		log.Error().Err(err).Msg("check failed")
		return err
	}
	return nil
}
