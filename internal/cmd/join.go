package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/config"
	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/logging"
	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/media"
	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/session"
	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/ui"
)

var (
	flagServer   string
	flagDomain   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagName     string
	flagDM       string
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a voice channel",
	Long: `Join a voice channel and talk to everyone in it. Hold the channel
open, toggle transmission with the space bar, and adjust each peer's volume
from the member list.

Examples:
  walkie-talkie join
  walkie-talkie join ops --name Ada
  walkie-talkie join --dm Grace --name Ada
  walkie-talkie join --domain talk.example.com lobby`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.Context(), args)
	},
}

func runJoin(ctx context.Context, args []string) error {
	logging.Init()

	cfg, err := config.Load(config.Options{
		ServerURL:  flagServer,
		Domain:     flagDomain,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		Username:   flagName,
	})
	if err != nil {
		return err
	}

	room := cfg.Room
	if len(args) > 0 {
		room = args[0]
	}
	if flagDM != "" {
		// Direct channels are ordinary rooms with a deterministic name, so
		// both sides land in the same one.
		room = session.DMRoom(cfg.Username, flagDM)
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to relay...")
	defer stopSpinner()
	transport := session.NewSignalClient(cfg.ServerURL)
	if err := transport.Connect(); err != nil {
		return err
	}
	stopSpinner()

	sess := session.New(cfg, transport, media.NewMicrophone(), slog.Default())
	defer sess.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sess.Run(runCtx)

	if err := sess.JoinRoom(room); err != nil {
		return err
	}

	summary, err := ui.RunTalk(sess, room, cfg.Username, cfg.ServerURL)
	if err != nil {
		return err
	}
	sess.LeaveRoom()

	fmt.Println()
	ui.RenderSessionSummary(summary)
	return nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagServer, "server", "", "Relay websocket URL (ws:// or wss://)")
	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom relay domain")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name")
	joinCmd.Flags().StringVar(&flagDM, "dm", "", "Open a direct channel with the named user")
}
