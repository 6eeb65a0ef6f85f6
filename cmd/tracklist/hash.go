package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/tracklist/internal/auth"
	"github.com/dukerupert/tracklist/internal/push"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print a bcrypt hash for a FAMILY_USERS entry",
	Example: `  tracklist hash-password 's3cret'
  FAMILY_USERS="alice:<hash>,bob:<hash>"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, hash)
		fmt.Fprintf(out, "\nAdd to FAMILY_USERS as: <username>:%s\n", hash)
		return nil
	},
}

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair for push notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "VAPID_PUBLIC_KEY=%s\n", pub)
		fmt.Fprintf(out, "VAPID_PRIVATE_KEY=%s\n", priv)
		return nil
	},
}
