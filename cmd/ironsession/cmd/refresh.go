package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/session"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh cookie for a new access token now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.store.IsAuthenticated() {
			return session.ErrNotAuthenticated
		}
		if _, err := a.client.Coordinator().Refresh(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Refreshed, expires %s\n", a.store.ExpiresAt().Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
