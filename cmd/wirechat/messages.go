package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	wirechat "github.com/wirechat/wirechat-go"
)

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(messagesCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <recipient-id> <message...>",
	Short: "Send a message",
	Long:  "Persist and deliver a message to another user.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		recipient := args[0]
		content := strings.Join(args[1:], " ")

		session := wirechat.NewSession(client, &wirechat.SessionConfig{
			UserID: cfg.Auth.UserID,
			PeerID: recipient,
			Token:  cfg.Auth.Token,
		})
		ctx := context.Background()
		if err := session.Start(ctx); err != nil {
			return err
		}
		defer session.Close()

		msg, err := session.Send(ctx, content)
		if err != nil {
			return err
		}
		fmt.Printf("Sent %s\n", msg.ID)
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <other-user-id>",
	Short: "Show the conversation with another user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		msgs, err := client.Conversation(context.Background(), cfg.Auth.UserID, args[0])
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}
		for _, m := range msgs {
			printMessage(cfg.Auth.UserID, m)
		}
		return nil
	},
}

func printMessage(selfID string, m wirechat.Message) {
	who := m.SenderID
	if m.SenderID == selfID {
		who = "me"
	}
	flags := ""
	if m.IsEdited {
		flags += " (edited)"
	}
	if m.SenderID == selfID && m.IsRead {
		flags += " ✓"
	}
	fmt.Printf("[%s] %s: %s%s\n", m.Timestamp.Local().Format(time.Stamp), who, m.Content, flags)
}
