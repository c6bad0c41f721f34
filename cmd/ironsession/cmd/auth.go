package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/session"
)

var (
	loginEmail    string
	loginPassword string
	loginCode     string

	verifyToken string
	verifyCode  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	Long: `Signs in with email and password. The password is read from stdin when
--password is not given. Accounts with two factor authentication print a
challenge token for verify-2fa unless --code is supplied.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var verify2FACmd = &cobra.Command{
	Use:   "verify-2fa",
	Short: "Complete a two factor login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.client.VerifyTwoFactor(cmd.Context(), verifyToken, verifyCode)
		if err != nil && !errors.Is(err, session.ErrPersist) {
			return err
		}
		printSignedIn(cmd.OutOrStdout(), res.User, err)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session on the server and locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.client.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, verify2FACmd, logoutCmd)

	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (read from stdin when empty)")
	loginCmd.Flags().StringVar(&loginCode, "code", "", "two factor code, completes the login in one step")
	_ = loginCmd.MarkFlagRequired("email")

	verify2FACmd.Flags().StringVar(&verifyToken, "token", "", "challenge token printed by login")
	verify2FACmd.Flags().StringVar(&verifyCode, "code", "", "current two factor code")
	_ = verify2FACmd.MarkFlagRequired("token")
	_ = verify2FACmd.MarkFlagRequired("code")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := loginPassword
	if password == "" {
		var err error
		if password, err = readLine(cmd.InOrStdin()); err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
	}

	a, err := openApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	res, err := a.client.Login(cmd.Context(), loginEmail, password)
	if err != nil && !errors.Is(err, session.ErrPersist) {
		return err
	}
	if res.TwoFactorRequired {
		if loginCode == "" {
			fmt.Fprintln(out, "Two factor authentication required.")
			fmt.Fprintf(out, "Run: ironsession verify-2fa --token %s --code <code>\n", res.TwoFactorToken)
			return nil
		}
		res, err = a.client.VerifyTwoFactor(cmd.Context(), res.TwoFactorToken, loginCode)
		if err != nil && !errors.Is(err, session.ErrPersist) {
			return err
		}
	}
	printSignedIn(out, res.User, err)
	return nil
}

func printSignedIn(w io.Writer, u *session.User, persistErr error) {
	if u != nil {
		fmt.Fprintf(w, "Signed in as %s (%s)\n", u.Email, u.Role)
	}
	if persistErr != nil {
		fmt.Fprintf(w, "Warning: session is not saved and ends with this process: %v\n", persistErr)
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}
