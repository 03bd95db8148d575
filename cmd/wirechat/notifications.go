package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	notificationsCmd.AddCommand(notificationsReadCmd)
	rootCmd.AddCommand(notificationsCmd)
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Show unread notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ns, err := client.UnreadNotifications(context.Background(), cfg.Auth.UserID)
		if err != nil {
			return err
		}
		if len(ns) == 0 {
			fmt.Println("No unread notifications.")
			return nil
		}
		for _, n := range ns {
			fmt.Printf("[%s] %-8s %s  (%s)\n", n.CreatedAt.Local().Format(time.Stamp), n.Kind, n.Message, n.ID)
		}
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		if err := client.MarkNotificationRead(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("Marked as read.")
		return nil
	},
}
