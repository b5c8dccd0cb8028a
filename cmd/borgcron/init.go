package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fhaussmann/borgcron/internal/services/runner"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"i"},
	Short:   "Initialize the remote repository",
	Long: `Initialize the borg repository on the backup host with the configured
encryption method. Fails if the repository already exists or the host is
unreachable.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Init(cmd.Context(), *cfg); err != nil {
		log.Error().Err(err).Msg("init failed")
		return err
	}
	return nil
}
