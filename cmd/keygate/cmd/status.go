package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/keygate/keeper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openTab(ctx, false)
		if err != nil {
			return err
		}
		defer env.close()

		k, err := keeper.New(
			keeper.WithBackend(env.backend),
			keeper.WithHost(env.host),
			keeper.WithSecureStorage(env.secure),
		)
		if err != nil {
			return err
		}
		defer k.Close()
		if err := k.Load(ctx); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		// Read the session before the status query, which purges an
		// expired token.
		s := k.GetSessionToken()
		fmt.Fprintf(out, "status:  %s\n", k.SessionTokenStatus(ctx))
		if s != nil {
			printSession(out, s.Claims.UID, s.Claims.ExpiresAt(), s.Claims.Nonce, s.Hash)
		}
		return nil
	},
}

func init() {
	addClientFlags(statusCmd)
	rootCmd.AddCommand(statusCmd)
}
