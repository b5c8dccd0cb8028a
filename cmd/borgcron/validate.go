package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fhaussmann/borgcron/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any backup operations.`,
	Args:  cobra.NoArgs,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return fmt.Errorf("config file is required")
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	cmd.SilenceUsage = true

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Repository: %s\n", cfg.Repo.Target())
	fmt.Printf("  Encryption: %s\n", cfg.Repo.Encryption)
	fmt.Printf("  Compression: %s\n", cfg.Repo.Compression)
	if cfg.Repo.RemotePath != "" {
		fmt.Printf("  Remote borg path: %s\n", cfg.Repo.RemotePath)
	}
	fmt.Printf("  Paths: %v\n", cfg.Backup.Paths)
	fmt.Printf("  Excludes: %v\n", cfg.Backup.Excludes)
	fmt.Printf("  Passphrase file: %s\n", cfg.PassphraseFile)
	fmt.Println()
	fmt.Println("Retention Policy:")
	fmt.Printf("  Keep daily: %d\n", cfg.Retention.KeepDaily)
	fmt.Printf("  Keep weekly: %d\n", cfg.Retention.KeepWeekly)
	fmt.Printf("  Keep monthly: %d\n", cfg.Retention.KeepMonthly)
	fmt.Printf("  Keep yearly: %d\n", cfg.Retention.KeepYearly)
	fmt.Println()
	fmt.Println("SSH:")
	fmt.Printf("  Port: %d\n", cfg.SSH.Port)
	if cfg.SSH.KeyPath != "" {
		fmt.Printf("  Key: %s\n", cfg.SSH.KeyPath)
	}
	if cfg.SSH.KnownHostsFile != "" {
		fmt.Printf("  Known hosts: %s\n", cfg.SSH.KnownHostsFile)
	} else {
		fmt.Println("  Known hosts: (not verified)")
	}
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  Notifications: %v\n", cfg.Notify != nil)
	fmt.Printf("  Hooks: %v\n", cfg.Hooks != nil)
	fmt.Printf("  Run lock: %v\n", cfg.LockFile != "")

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		fmt.Printf("  Timeout: %s\n", cfg.WOL.Timeout)
	}

	if cfg.Notify != nil {
		fmt.Println()
		fmt.Println("Notification Configuration:")
		// URLs may embed tokens, print the count only
		fmt.Printf("  URLs: %d configured\n", len(cfg.Notify.URLs))
		fmt.Printf("  Level: %s\n", cfg.Notify.Level)
	}

	if cfg.Hooks != nil {
		fmt.Println()
		fmt.Println("Hook Configuration:")
		fmt.Printf("  Before: %d command(s)\n", len(cfg.Hooks.Before))
		fmt.Printf("  After: %d command(s)\n", len(cfg.Hooks.After))
	}

	if cfg.LockFile != "" {
		fmt.Println()
		fmt.Printf("Lock file: %s\n", cfg.LockFile)
	}

	return nil
}
