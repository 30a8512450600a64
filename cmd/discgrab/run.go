package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"discgrab/internal/discord"
	"discgrab/pkg/auth"
	"discgrab/pkg/config"
	"discgrab/pkg/logger"
	"discgrab/pkg/ui"
)

var (
	// Run command flags
	runProfile string
	prefix     string
	workers    int
	outputDir  string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Discord bot",
	Long: `Start the Discord bot and serve scan commands until interrupted.

The bot token is resolved in order from:
  - The configuration file (discord.token, not recommended)
  - Stored tokens (use 'discgrab token set' to store one)
  - Environment variables (DISCGRAB_TOKEN or DISCORD_TOKEN)

Stop the bot with Ctrl+C; running scans checkpoint their progress and can
be resumed with the resume command after the next start.`,
	Example: `  # Start with the default configuration
  discgrab run

  # Start with a specific config file and more download workers
  discgrab run --config ./discgrab.yaml --workers 8

  # Use a token stored under a non-default profile
  discgrab run --profile staging`,
	Args: cobra.NoArgs,
	Run:  runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runProfile, "profile", "p", auth.DefaultProfile, "token profile to use")
	runCmd.Flags().StringVar(&prefix, "prefix", "", "command prefix inside Discord")
	runCmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent download workers")
	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "base directory for downloads")
}

func runBot(cmd *cobra.Command, args []string) {
	// Build flags map from command line
	flags := make(map[string]interface{})
	if prefix != "" {
		flags["prefix"] = prefix
	}
	if workers > 0 {
		flags["workers"] = workers
	}
	if outputDir != "" {
		flags["download-dir"] = outputDir
	}
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}

	// Load configuration
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logging", err.Error())
		os.Exit(1)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("discgrab starting")

	// Resolve the bot token
	token := cfg.Discord.Token
	if token == "" {
		manager, err := auth.NewManager()
		if err != nil {
			ui.PrintError("Failed to initialize token manager", err.Error())
			os.Exit(1)
		}
		token, err = manager.Resolve(runProfile)
		if err != nil {
			log.Error("No bot token found")
			ui.PrintError("No bot token found", "")
			fmt.Println("\nTo store a token securely, run:")
			fmt.Println("  discgrab token set")
			fmt.Println("\nYou can also set an environment variable:")
			fmt.Println("  export DISCGRAB_TOKEN=your_bot_token")
			os.Exit(1)
		}
	}

	bot, err := discord.New(cfg, token, log)
	if err != nil {
		ui.PrintError("Failed to initialize bot", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.PrintInfo("Command prefix", cfg.Discord.Prefix)
	ui.PrintInfo("Download directory", cfg.Download.BaseDirectory)
	ui.PrintHighlight("[CONNECTING TO GATEWAY]")

	if err := bot.Run(ctx); err != nil {
		log.WithError(err).Error("bot stopped")
		ui.PrintError("BOT STOPPED", err.Error())
		os.Exit(1)
	}

	log.Info("discgrab shut down cleanly")
	ui.PrintSuccess("[SHUTDOWN COMPLETE]")
}
