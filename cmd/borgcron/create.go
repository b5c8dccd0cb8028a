package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fhaussmann/borgcron/internal/services/runner"
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Create a new archive from the configured paths",
	Long: `Create a new archive named after the current date from the configured
source paths, honoring the exclude patterns. Hook commands configured under
hooks.before and hooks.after run around the backup.`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Create(cmd.Context(), *cfg); err != nil {
		log.Error().Err(err).Msg("create failed")
		return err
	}
	return nil
}
