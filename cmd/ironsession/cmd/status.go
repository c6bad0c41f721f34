package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/session"
)

var (
	statusRoles []string
	statusJSON  bool
)

type statusReport struct {
	Authenticated bool          `json:"authenticated"`
	User          *session.User `json:"user,omitempty"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	ExpiresIn     string        `json:"expires_in,omitempty"`
	Refreshable   bool          `json:"refreshable"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	Long: `Shows the stored session. With --require-role the command fails unless the
signed-in user holds one of the given roles.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		report := buildStatus(a.store, time.Now())
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			printStatus(cmd.OutOrStdout(), report)
		}

		if len(statusRoles) > 0 {
			return a.store.Authorize(statusRoles...)
		}
		if !report.Authenticated {
			return session.ErrNotAuthenticated
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringSliceVar(&statusRoles, "require-role", nil, "fail unless the user has one of these roles")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
}

func buildStatus(store *session.Store, now time.Time) statusReport {
	snap := store.Snapshot()
	if !snap.Authenticated() {
		return statusReport{}
	}
	expires := snap.ExpiresAt
	return statusReport{
		Authenticated: true,
		User:          snap.User,
		ExpiresAt:     &expires,
		ExpiresIn:     expires.Sub(now).Round(time.Second).String(),
		Refreshable:   snap.RefreshMarker != "",
	}
}

func printStatus(w io.Writer, r statusReport) {
	if !r.Authenticated {
		fmt.Fprintln(w, "Not signed in")
		return
	}
	fmt.Fprintf(w, "User:        %s (%s)\n", r.User.Email, r.User.FullName)
	fmt.Fprintf(w, "Role:        %s\n", r.User.Role)
	fmt.Fprintf(w, "Expires:     %s (in %s)\n", r.ExpiresAt.Format(time.RFC3339), r.ExpiresIn)
	fmt.Fprintf(w, "Refreshable: %t\n", r.Refreshable)
}
