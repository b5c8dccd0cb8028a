package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fhaussmann/borgcron/internal/services/runner"
)

var deleteCmd = &cobra.Command{
	Use:     "delete",
	Aliases: []string{"d"},
	Short:   "Delete the whole repository on the backup host",
	Long: `Delete removes the repository directory on the backup host with a raw
rm -rf over SSH. This destroys every archive in it and cannot be undone,
so it asks for confirmation first.`,
	Args: cobra.NoArgs,
	RunE: runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), cfg.Repo.Target()) {
		log.Warn().Str("repository", cfg.Repo.Target()).Msg("deletion not confirmed, aborting")
		return fmt.Errorf("deletion not confirmed")
	}

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Delete(cmd.Context(), *cfg); err != nil {
		log.Error().Err(err).Msg("delete failed")
		return err
	}
	return nil
}

// confirm prompts on w and reads one reply from r. Only a reply beginning
// with y or Y counts as consent; anything else, including end of input,
// declines.
func confirm(r io.Reader, w io.Writer, target string) bool {
	fmt.Fprintf(w, "This removes the whole repository %s and cannot be undone.\n", target)
	fmt.Fprint(w, "Type y to continue: ")

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "y") || strings.HasPrefix(line, "Y")
}
