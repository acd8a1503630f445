package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"peersignal/internal/util"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	Server    Server    `json:"server"`
	Storage   Storage   `json:"storage"`
	Presence  Presence  `json:"presence"`
	Signaling Signaling `json:"signaling"`
}

type Identity struct {
	// Ed25519 signing key used to counter-sign peer challenges.
	// Created on first start when missing; watched for rotation.
	KeyFile string `json:"key_file"`
}

type Server struct {
	// Bind address for the signaling server, e.g. "127.0.0.1:8790".
	ListenAddr string `json:"listen_addr"`

	// Public URL shown to clients instead of the bind address.
	// Needed for servers behind NAT or reverse proxies.
	ExternalURL string `json:"external_url"`

	// Password for /peers.json and /logs.json (HTTP Basic Auth, user "admin").
	// Empty means the admin endpoints are disabled (return 403).
	AdminPassword string `json:"admin_password"`
}

type Storage struct {
	// SQLite database holding users, friendships and peer connections.
	// Relative to the data directory.
	DBPath string `json:"db_path"`
}

type Presence struct {
	// A session counts as online when it has seen activity within this window.
	OnlineWindowSec int `json:"online_window_seconds"`

	// A ledger row counts as active when its last activity falls within this
	// window. Deliberately distinct from the online window.
	ActiveWindowSec int `json:"active_window_seconds"`
}

type Signaling struct {
	// ICE servers handed to clients in the welcome frame.
	StunServers []string `json:"stun_servers"`
	TurnServers []string `json:"turn_servers"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/server.key",
		},
		Server: Server{
			ListenAddr: "127.0.0.1:8790",
		},
		Storage: Storage{
			DBPath: "data/peersignal.db",
		},
		Presence: Presence{
			OnlineWindowSec: 300,
			ActiveWindowSec: 1800,
		},
		Signaling: Signaling{
			StunServers: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}

	addr := strings.TrimSpace(c.Server.ListenAddr)
	if addr == "" {
		return errors.New("server.listen_addr is required")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("server.listen_addr: %v", err)
	}
	if port == "" {
		return errors.New("server.listen_addr must include a port")
	}
	if host != "" && net.ParseIP(host) == nil {
		return errors.New("server.listen_addr host must be a valid IP address")
	}

	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return errors.New("storage.db_path is required")
	}

	if c.Presence.OnlineWindowSec <= 0 {
		return errors.New("presence.online_window_seconds must be > 0")
	}
	if c.Presence.ActiveWindowSec <= 0 {
		return errors.New("presence.active_window_seconds must be > 0")
	}
	if c.Presence.OnlineWindowSec > c.Presence.ActiveWindowSec {
		return errors.New("presence.online_window_seconds must be <= presence.active_window_seconds")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
