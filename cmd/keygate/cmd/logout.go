package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the session token and log out every open tab",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openTab(ctx, false)
		if err != nil {
			return err
		}
		defer env.close()

		c, err := env.newClient(ctx)
		if err != nil {
			return err
		}
		logoutErr := c.Logout(ctx)

		// Close drains the channel queue, so the broadcast is out before
		// the process exits.
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			return err
		}
		if logoutErr != nil {
			return logoutErr
		}
		fmt.Fprintln(cmd.OutOrStdout(), "logged out")
		return nil
	},
}

func init() {
	addClientFlags(logoutCmd)
	rootCmd.AddCommand(logoutCmd)
}
