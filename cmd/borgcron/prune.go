package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fhaussmann/borgcron/internal/services/runner"
)

var pruneCmd = &cobra.Command{
	Use:     "prune",
	Aliases: []string{"p"},
	Short:   "Prune archives outside the retention window",
	Long: `Prune archives according to the configured retention policy. All four
keep counts (daily, weekly, monthly, yearly) are passed to borg, which
decides what falls outside the window.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Prune(cmd.Context(), *cfg); err != nil {
		log.Error().Err(err).Msg("prune failed")
		return err
	}
	return nil
}
