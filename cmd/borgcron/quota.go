package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fhaussmann/borgcron/internal/services/runner"
)

var quotaCmd = &cobra.Command{
	Use:     "quota",
	Aliases: []string{"q"},
	Short:   "Show disk quota on the backup host",
	Long: `Run the quota command on the backup host over SSH and print its output
unmodified. Useful to see how much space the backup account has left.`,
	Args: cobra.NoArgs,
	RunE: runQuota,
}

func runQuota(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Quota(cmd.Context(), *cfg); err != nil {
		log.Error().Err(err).Msg("quota failed")
		return err
	}
	return nil
}
