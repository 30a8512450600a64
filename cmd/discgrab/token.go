package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"discgrab/pkg/auth"
	"discgrab/pkg/ui"
)

var (
	tokenProfile string
	showGuide    bool
)

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the bot token",
	Long: `Manage the stored Discord bot token.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read-only fallback)

Never share your bot token or config files!`,
}

// tokenSetCmd represents the token set command
var tokenSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the bot token securely",
	Long: `Store the Discord bot token in the system keychain or an encrypted file.

The token is read from a hidden prompt and never echoed or logged.
Use --guide for step-by-step instructions on obtaining a token.`,
	Example: `  # Interactive prompt
  discgrab token set

  # Show the full token guide first
  discgrab token set --guide

  # Store under a separate profile
  discgrab token set --profile staging`,
	Args: cobra.NoArgs,
	Run:  runTokenSet,
}

// tokenStatusCmd represents the token status command
var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the token is stored",
	Long:  `Show which backends hold the bot token. The token itself is shown masked.`,
	Args:  cobra.NoArgs,
	Run:   runTokenStatus,
}

// tokenClearCmd represents the token clear command
var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored token",
	Args:  cobra.NoArgs,
	Run:   runTokenClear,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenStatusCmd)
	tokenCmd.AddCommand(tokenClearCmd)

	tokenCmd.PersistentFlags().StringVarP(&tokenProfile, "profile", "p", auth.DefaultProfile, "token profile")
	tokenSetCmd.Flags().BoolVar(&showGuide, "guide", false, "show instructions for obtaining a bot token")
}

func runTokenSet(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize token manager", err.Error())
		os.Exit(1)
	}

	if showGuide {
		auth.ShowTokenGuide()
	} else {
		auth.ShowQuickTokenGuide()
	}

	reader := bufio.NewReader(os.Stdin)

	// Confirm before replacing an existing token
	if _, err := manager.Resolve(tokenProfile); err == nil {
		fmt.Printf("\n⚠️  A token already exists for profile '%s'. Replace it? (y/N): ", tokenProfile)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	fmt.Print("\nBot token (input hidden): ")
	token, err := readToken()
	if err != nil {
		ui.PrintError("Failed to read token", err.Error())
		os.Exit(1)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		ui.PrintError("Token is required", "")
		os.Exit(1)
	}

	// Bot tokens are three dot-separated parts
	if strings.Count(token, ".") < 2 {
		ui.PrintWarning("That doesn't look like a bot token", "expected three dot-separated parts")
		fmt.Print("Store it anyway? (y/N): ")
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			os.Exit(1)
		}
	}

	fmt.Println("\n💾 Storing token securely...")
	if err := manager.Set(tokenProfile, token); err != nil {
		ui.PrintError("Failed to store token", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Token stored for profile: " + tokenProfile)
	fmt.Printf("   Token: %s\n", auth.Mask(token))

	fmt.Println("\n📖 Quick Start Guide:")
	fmt.Println("   Start the bot:")
	fmt.Println("   $ discgrab run")
	fmt.Println("\n   Then, inside a channel the bot can read:")
	fmt.Println("   > scan 100")
	fmt.Println("\n⚠️  Never share your bot token or config files!")
}

func runTokenStatus(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize token manager", err.Error())
		os.Exit(1)
	}

	ui.PrintHighlight("Token Status")
	fmt.Println()
	fmt.Printf("Profile: %s\n", tokenProfile)

	token, resolveErr := manager.Resolve(tokenProfile)
	if resolveErr != nil {
		ui.PrintWarning("No token stored", "")
		fmt.Println("\nStore one with:")
		fmt.Println("  discgrab token set")
	} else {
		fmt.Printf("Token: %s\n", auth.Mask(token))
	}

	fmt.Println("\nBackends:")
	for _, status := range manager.Status(tokenProfile) {
		marker := "✗"
		if status.Exists {
			marker = "✓"
		}
		fmt.Printf("  %s %s\n", marker, status.Store)
	}
}

func runTokenClear(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize token manager", err.Error())
		os.Exit(1)
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("Remove the token for profile '%s'? (y/N): ", tokenProfile)
	input, _ := reader.ReadString('\n')
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
		return
	}

	if err := manager.Delete(tokenProfile); err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			ui.PrintInfo("No token stored", tokenProfile)
			return
		}
		ui.PrintError("Failed to remove token", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess("Token removed: " + tokenProfile)
}

// readToken reads a token from stdin without echoing
func readToken() (string, error) {
	// Try to read without echo
	if term.IsTerminal(int(syscall.Stdin)) {
		token, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println() // New line after hidden input
		if err == nil {
			return string(token), nil
		}
	}

	// Fallback to regular input
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
