package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	wirechat "github.com/wirechat/wirechat-go"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <other-user-id>",
	Short: "Open a live conversation",
	Long:  "Open an interactive realtime session with another user.\nType a line to send it; /quit leaves the session.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		peer := args[0]

		session := wirechat.NewSession(client, &wirechat.SessionConfig{
			UserID: cfg.Auth.UserID,
			PeerID: peer,
			Token:  cfg.Auth.Token,
		})
		session.OnPeerTyping = func(typing bool) {
			if typing {
				fmt.Printf("... %s is typing\n", peer)
			}
		}
		session.Notifications().OnChange = func(unread int) {
			if unread > 0 {
				fmt.Printf("(%d unread notifications)\n", unread)
			}
		}

		ctx := context.Background()
		if err := session.Start(ctx); err != nil {
			return err
		}
		defer session.Close()

		for _, m := range session.Store().Messages() {
			printMessage(cfg.Auth.UserID, m)
		}

		seen := map[string]bool{}
		for _, m := range session.Store().Messages() {
			seen[m.ID] = true
		}
		session.OnChange = func() {
			for _, m := range session.Store().Messages() {
				if !seen[m.ID] && m.SenderID == peer {
					seen[m.ID] = true
					printMessage(cfg.Auth.UserID, m)
				}
			}
		}

		fmt.Printf("Connected as %s. Chatting with %s. /quit to exit.\n", cfg.Auth.UserID, peer)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				return nil
			}
			if _, err := session.Send(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
		return scanner.Err()
	},
}
