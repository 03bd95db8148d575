package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	initCmd.Flags().String("token", "", "bearer token for the server")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <server-url> <user-id>",
	Short: "Store server URL and identity in ~/.wirechat/config.toml",
	Long:  "Initialize the WireChat CLI by storing the server URL and your user ID in the local configuration file.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, userID := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.ServerURL = serverURL
		cfg.Auth.UserID = userID
		if token, _ := cmd.Flags().GetString("token"); token != "" {
			cfg.Auth.Token = token
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Configuration saved to %s\n", path)
		return nil
	},
}
