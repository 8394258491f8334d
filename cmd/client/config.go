package main

import (
	"encoding/json"
	"flag"
	"os"
	"time"
)

// config holds runtime settings for the sync client CLI.
type config struct {
	ServerAddr   string
	DatabaseDSN  string
	Email        string
	Register     bool
	Offline      bool
	SyncInterval time.Duration
}

func (c *config) loadDefaults() {
	c.ServerAddr = "http://127.0.0.1:3000"
	c.DatabaseDSN = "file:notesync.db"
	c.SyncInterval = 30 * time.Second
}

// jsonConfig is a DTO used exclusively for JSON unmarshalling; intervals are
// given as strings like "30s".
type jsonConfig struct {
	ServerAddr   string `json:"server_addr"`
	DatabaseDSN  string `json:"database_dsn"`
	SyncInterval string `json:"sync_interval"`
}

// loadConfig constructs a config, applies defaults, then overlays values
// from JSON (if -config is given) and command-line flags. Later sources
// take precedence.
func loadConfig(args []string) (*config, error) {
	cfg := &config{}
	cfg.loadDefaults()

	fs := flag.NewFlagSet("notesync", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to JSON config file")
	addr := fs.String("a", "", "server address")
	dsn := fs.String("d", "", "database DSN")
	email := fs.String("e", "", "account email")
	register := fs.Bool("register", false, "register a new account")
	offline := fs.Bool("offline", false, "run without an account")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}
		var jc jsonConfig
		if err := json.Unmarshal(data, &jc); err != nil {
			return nil, err
		}
		if jc.ServerAddr != "" {
			cfg.ServerAddr = jc.ServerAddr
		}
		if jc.DatabaseDSN != "" {
			cfg.DatabaseDSN = jc.DatabaseDSN
		}
		if jc.SyncInterval != "" {
			d, err := time.ParseDuration(jc.SyncInterval)
			if err != nil {
				return nil, err
			}
			cfg.SyncInterval = d
		}
	}

	if *addr != "" {
		cfg.ServerAddr = *addr
	}
	if *dsn != "" {
		cfg.DatabaseDSN = *dsn
	}
	cfg.Email = *email
	cfg.Register = *register
	cfg.Offline = *offline
	return cfg, nil
}
