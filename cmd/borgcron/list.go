package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fhaussmann/borgcron/internal/services/runner"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l"},
	Short:   "List the archives in the repository",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.List(cmd.Context(), *cfg); err != nil {
		log.Error().Err(err).Msg("list failed")
		return err
	}
	return nil
}
