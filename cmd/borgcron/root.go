package main

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fhaussmann/borgcron/internal/config"
	"github.com/fhaussmann/borgcron/internal/models"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
	useSyslog  bool
)

var rootCmd = &cobra.Command{
	Use:   "borgcron",
	Short: "A borg backup orchestrator for cron driven remote backups",
	Long: `borgcron wraps the borg backup tool for unattended remote backups:
  - initialize, create, prune, check and list archives over SSH
  - delete the repository or query the remote quota via raw SSH commands
  - optionally wake the backup host first (Wake-on-LAN)
  - optionally run hook commands around the backup
  - optionally send outcome notifications (shoutrrr URLs)

Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
		setupSignalHandler()
	},
	// Unknown subcommands are rejected by cobra itself; an invocation with
	// no subcommand at all lands here and must fail, not just print help.
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("no command given")
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().BoolVar(&useSyslog, "syslog", false, "also log to the system log")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	var output io.Writer
	if jsonOutput {
		output = os.Stdout
	} else {
		console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		console.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		output = console
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	if useSyslog {
		sysWriter, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "borgcron")
		if err != nil {
			logger.Warn().Err(err).Msg("syslog unavailable, logging to console only")
		} else {
			combined := zerolog.MultiLevelWriter(output, zerolog.SyslogLevelWriter(sysWriter))
			logger = zerolog.New(combined).With().Timestamp().Logger()
		}
	}

	log.Logger = logger

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// setupSignalHandler logs when the process is killed mid operation. The
// in-flight borg subprocess is not cancelled, borg handles its own
// interrupted-operation recovery.
func setupSignalHandler() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("terminated unexpectedly")

		// Restore the default disposition and re-raise so the exit status
		// reflects the signal.
		signal.Reset(sig)
		if s, ok := sig.(syscall.Signal); ok {
			_ = syscall.Kill(syscall.Getpid(), s)
			return
		}
		os.Exit(1)
	}()
}

// loadConfig loads and validates the configured file. On success it also
// silences cobra's usage output, so operational failures after this point
// are not mistaken for CLI misuse.
func loadConfig(cmd *cobra.Command) (*models.Config, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return nil, fmt.Errorf("config file is required")
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	cmd.SilenceUsage = true

	log.Info().
		Str("config", configFile).
		Str("repository", cfg.Repo.Target()).
		Msg("configuration loaded")

	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
