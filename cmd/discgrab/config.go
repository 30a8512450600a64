package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"discgrab/pkg/auth"
	"discgrab/pkg/config"
	"discgrab/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage discgrab configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables
  - Configuration file
  - Default values (lowest priority)`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as 'discgrab.yaml'
unless a different path is specified with the --config flag.`,
	Run: runConfigInit,
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the current configuration including values from all sources:
  - Command line flags
  - Environment variables
  - Configuration file
  - Default values

The bot token is masked for security.`,
	Run: runConfigShow,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value types and ranges
  - Path accessibility`,
	Run: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	// Determine config file path
	configPath := configFile
	if configPath == "" {
		configPath = "discgrab.yaml"
	}

	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		os.Exit(1)
	}

	// Create example configuration
	exampleConfig := `# discgrab Configuration File
#
# This file contains all available configuration options.
# You can also use environment variables prefixed with DISCGRAB_
# For example: DISCGRAB_PREFIX, DISCGRAB_DOWNLOAD_DIR

# Discord connection
discord:
  # Bot token (optional here)
  # Prefer 'discgrab token set', which keeps the token in the system
  # keyring instead of a plain text file. DISCGRAB_TOKEN works too.
  # token: "YOUR_BOT_TOKEN"

  # Command prefix the bot listens for
  prefix: ">"

# Message scanning
scan:
  # Messages fetched per history page and the unit of checkpointing
  # Range: 1-100
  batch_size: 50

  # Messages scanned when the scan command gives no count
  default_limit: 100

  # Upper bound for explicit counts ('scan all' bypasses it)
  max_limit: 500

  # What a new scan does when an unfinished checkpoint exists:
  # reject or overwrite
  on_existing: "reject"

# Download configuration
download:
  # Directory media is saved under, one subdirectory per channel
  base_directory: "./downloads"

  # Concurrent download workers shared by all scans
  # Range: 1-10
  workers: 4

  # HTTP timeout for a single download
  timeout: 30s

# Rate limiting for media requests
rate_limit:
  # Requests per minute across all scans
  requests_per_minute: 60

  # Requests allowed above the smooth rate
  burst_size: 10

  # Strategy: smooth or bucket
  strategy: "smooth"

# Retry configuration
retry:
  # Attempts per URL before it counts as failed
  # Range: 1-10
  max_attempts: 3

  # Backoff before the first retry
  base_delay: 2s

  # Backoff ceiling
  max_delay: 30s

  # Backoff multiplier
  multiplier: 2.0

  # Add random jitter to retry delays
  jitter: true

# Checkpoint and URL history location
state:
  directory: "./state"

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: "info"

  # Log format: console, json
  format: "console"

  # Log file path (optional)
  # Leave empty to log to stdout only
  file: ""
`

	// Write configuration file
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		ui.PrintError("Failed to create configuration file", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store your bot token with 'discgrab token set'")
	fmt.Println("2. Run 'discgrab config validate' to check the configuration")
	fmt.Println("3. Start the bot with 'discgrab run'")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	// Load configuration
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	// Create a sanitized version for display
	displayCfg := *cfg
	if displayCfg.Discord.Token != "" {
		displayCfg.Discord.Token = auth.Mask(displayCfg.Discord.Token)
	}

	// Convert to YAML for display
	data, err := yaml.Marshal(&displayCfg)
	if err != nil {
		ui.PrintError("Failed to format configuration", err.Error())
		os.Exit(1)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	// Show configuration sources
	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (DISCGRAB_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (not specified)")
	}
	fmt.Println("4. Default values")
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	// Check if config file is specified
	if configFile == "" {
		// Try to find config file in common locations
		possiblePaths := []string{
			"discgrab.yaml",
			"discgrab.yml",
			".discgrab.yaml",
			".discgrab.yml",
			filepath.Join(os.Getenv("HOME"), ".discgrab.yaml"),
			filepath.Join(os.Getenv("HOME"), ".config", "discgrab", "config.yaml"),
		}

		for _, path := range possiblePaths {
			if _, err := os.Stat(path); err == nil {
				configFile = path
				break
			}
		}

		if configFile == "" {
			ui.PrintError("No configuration file found", "Specify a file with --config flag")
			os.Exit(1)
		}
	}

	ui.PrintInfo("Validating configuration", configFile)

	// Try to load and validate configuration
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Configuration validation failed", err.Error())
		os.Exit(1)
	}

	// Perform additional validation checks
	warnings := []string{}
	errors := []string{}

	// Check token sources
	if cfg.Discord.Token == "" {
		manager, err := auth.NewManager()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Cannot check token stores: %v", err))
		} else if _, err := manager.Resolve(auth.DefaultProfile); err != nil {
			warnings = append(warnings, "No bot token configured. Run 'discgrab token set' before starting the bot")
		}
	} else {
		warnings = append(warnings, "Token is stored in the config file. Consider 'discgrab token set' and removing it from the file")
	}

	// Check paths
	if cfg.Download.BaseDirectory != "" {
		if err := os.MkdirAll(cfg.Download.BaseDirectory, 0755); err != nil {
			errors = append(errors, fmt.Sprintf("Cannot create download directory: %v", err))
		}
	}
	if cfg.State.Directory != "" {
		if err := os.MkdirAll(cfg.State.Directory, 0755); err != nil {
			errors = append(errors, fmt.Sprintf("Cannot create state directory: %v", err))
		}
	}

	// Check logging file path
	if cfg.Logging.File != "" {
		dir := filepath.Dir(cfg.Logging.File)
		if err := os.MkdirAll(dir, 0755); err != nil {
			errors = append(errors, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}

	// Check value relationships Validate cannot see
	if cfg.Scan.DefaultLimit > cfg.Scan.MaxLimit {
		warnings = append(warnings, "default_limit exceeds max_limit, explicit counts will be clamped below the default")
	}
	if cfg.Retry.MaxAttempts > 10 {
		errors = append(errors, "max_attempts must be between 1 and 10")
	}

	// Display results
	if len(errors) > 0 {
		ui.PrintError("Configuration has errors:", "")
		for _, err := range errors {
			fmt.Printf("  - %s\n", err)
		}
		os.Exit(1)
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:", "")
		for _, warn := range warnings {
			fmt.Printf("  - %s\n", warn)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	// Show summary
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Command prefix: %s\n", cfg.Discord.Prefix)
	fmt.Printf("  Download directory: %s\n", cfg.Download.BaseDirectory)
	fmt.Printf("  State directory: %s\n", cfg.State.Directory)
	fmt.Printf("  Workers: %d\n", cfg.Download.Workers)
	fmt.Printf("  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Printf("  Batch size: %d\n", cfg.Scan.BatchSize)
	fmt.Printf("  Max retries: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
}
