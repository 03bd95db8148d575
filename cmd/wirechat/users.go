package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(usersCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		users, err := client.ListUsers(context.Background())
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No users.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("%-24s %s\n", u.ID, u.Name)
		}
		return nil
	},
}
