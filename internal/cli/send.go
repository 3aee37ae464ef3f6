package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	sendSession string
	sendJSON    bool
	sendTimeout int
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message to a running router",
	Long: `Send one chat message to a running router and print the reply.
Text replies are printed as-is; image and video replies print the asset URL.
Pass --session to continue a conversation; the session id is printed on stderr.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendSession, "session", "", "session id to continue (empty starts a new session)")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "print the raw JSON reply")
	sendCmd.Flags().IntVar(&sendTimeout, "timeout", 300, "request timeout in seconds")
	sendCmd.Flags().StringVar(&serverURL, "server", "", "router base URL (default from config)")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	base, err := resolveServerURL()
	if err != nil {
		return err
	}

	client := newAPIClient(base, time.Duration(sendTimeout)*time.Second)
	reply, err := client.SendMessage(cmd.Context(), sendSession, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sendJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "session: %s (%s)\n", reply.SessionID, reply.Intent)
	if reply.AssetURL != "" {
		url := reply.AssetURL
		if strings.HasPrefix(url, "/") {
			url = strings.TrimRight(base, "/") + url
		}
		fmt.Fprintln(out, url)
		return nil
	}
	fmt.Fprintln(out, reply.Text)
	return nil
}
