package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/config"
	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/logging"
	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/server"
	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/signaling"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Run the signaling relay",
	Long: `Run the signaling relay that carries room presence and WebRTC
negotiation traffic between clients. Voice never touches the relay.

Examples:
  walkie-talkie serve
  walkie-talkie serve --listen :9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	logging.Init()

	cfg, err := config.Load(config.Options{ListenAddr: flagListen})
	if err != nil {
		return err
	}

	hub := signaling.NewHub(signaling.NewRegistry(), slog.Default())
	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go hub.Run(hubCtx)

	e := server.New(hub, slog.Default())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Shutdown(shutdownCtx)
	}()

	slog.Info("signaling relay listening", "addr", cfg.ListenAddr)
	if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (default :8080)")
}
