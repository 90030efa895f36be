package server

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/protocol"
	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// The relay carries no credentials and usernames are unverified free
	// text, so cross-origin browser clients are allowed.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// New builds the HTTP surface of the relay: the websocket endpoint and a
// health check.
func New(hub *signaling.Hub, logger *slog.Logger) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "Signaling relay is healthy.")
	})
	e.GET("/ws", serveWs(hub, logger))

	return e
}

// serveWs upgrades the request, assigns the connection id, and hands the
// connection to the hub.
func serveWs(hub *signaling.Hub, logger *slog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response().Writer, c.Request(), nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", c.Request().RemoteAddr, "err", err)
			return err
		}

		client := signaling.NewClient(uuid.NewString(), hub, conn, logger)
		hub.Register <- client

		// Queued ahead of the pumps so the client learns its own id before
		// any presence traffic. A socket.io client gets this for free as
		// socket.id; a plain websocket needs it on the wire.
		client.Send <- protocol.MustEnvelope(protocol.KindConnected, protocol.Connected{ID: client.ID})

		go client.WritePump()
		go client.ReadPump()
		return nil
	}
}
