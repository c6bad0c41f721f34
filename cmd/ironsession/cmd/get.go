package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var getRaw bool

var getCmd = &cobra.Command{
	Use:   "get PATH",
	Short: "GET a protected backend path with the stored session",
	Long: `Sends an authenticated GET to PATH relative to the base URL and prints the
body. An expired access token is refreshed and the request replayed once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		req, err := a.client.NewRequest(cmd.Context(), http.MethodGet, args[0], nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		return writeBody(cmd.OutOrStdout(), body, getRaw)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().BoolVar(&getRaw, "raw", false, "print the body as received")
}

// writeBody indents JSON bodies unless raw is set.
func writeBody(w io.Writer, body []byte, raw bool) error {
	if !raw && json.Valid(body) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			buf.WriteByte('\n')
			_, err = w.Write(buf.Bytes())
			return err
		}
	}
	_, err := w.Write(body)
	return err
}
