package main

import (
	"fmt"
	"os"

	wirechat "github.com/wirechat/wirechat-go"
)

// getClient creates a WireChat client from the stored configuration.
func getClient() (*wirechat.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.ServerURL == "" || cfg.Auth.UserID == "" {
		fmt.Fprintln(os.Stderr, "Not configured. Run 'wirechat init <server-url> <user-id>' first.")
		os.Exit(1)
	}

	var opts []wirechat.ClientOption
	if cfg.Auth.Token != "" {
		opts = append(opts, wirechat.WithToken(cfg.Auth.Token))
	}
	return wirechat.NewClient(cfg.Default.ServerURL, opts...), cfg
}
