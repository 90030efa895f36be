package config

import (
	"fmt"
	"os"
	"strings"
)

// Default configuration values.
const (
	DefaultListenAddr = ":8080"
	DefaultServerURL  = "ws://localhost:8080/ws"
	DefaultSTUN       = "stun:stun.l.google.com:19302"
	DefaultUsername   = "Anonymous"
	DefaultRoom       = "general"
)

// Config holds application configuration for both the relay server and the
// voice-channel client.
type Config struct {
	// ListenAddr is the relay server bind address.
	ListenAddr string

	// ServerURL is the websocket URL the client dials.
	ServerURL string

	// ICE servers for WebRTC.
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// Username is the display name announced on join.
	Username string

	// Room is the voice channel to join.
	Room string
}

// Options carries CLI flag overrides into Load.
type Options struct {
	ListenAddr string
	ServerURL  string
	Domain     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	Username   string
	Room       string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	listenAddr := pick(opts.ListenAddr, "LISTEN_ADDR", DefaultListenAddr)

	serverURL := opts.ServerURL
	if serverURL == "" {
		serverURL = os.Getenv("SERVER_URL")
	}
	if serverURL == "" {
		// A bare domain is shorthand for the production websocket endpoint.
		domain := opts.Domain
		if domain == "" {
			domain = os.Getenv("DOMAIN")
		}
		if domain != "" {
			serverURL = fmt.Sprintf("wss://%s/ws", domain)
		}
	}
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	if !strings.HasPrefix(serverURL, "ws://") && !strings.HasPrefix(serverURL, "wss://") {
		return nil, fmt.Errorf("server URL must use ws:// or wss://, got %q", serverURL)
	}

	return &Config{
		ListenAddr: listenAddr,
		ServerURL:  serverURL,
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		Username:   pick(opts.Username, "WT_USERNAME", DefaultUsername),
		Room:       pick(opts.Room, "WT_ROOM", DefaultRoom),
	}, nil
}

// pick resolves a value as flag > env > default.
func pick(flag, envVar, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return def
}

// GetSTUNServers returns STUN server URLs as strings.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
