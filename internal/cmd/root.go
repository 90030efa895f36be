package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/ui"
	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "walkie-talkie",
	Short:   "Room-based voice chat over WebRTC, with a signaling relay and a terminal client",
	Long:    `Walkie-Talkie is push-to-talk voice chat for the terminal. Peers in the same room exchange audio directly over WebRTC; the built-in relay only carries presence and signaling traffic, never media. Run the relay with "serve" and hop on a channel with "join".`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
