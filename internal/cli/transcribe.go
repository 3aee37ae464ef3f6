package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var transcribeTimeout int

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [audio-file]",
	Short: "Transcribe an audio file",
	Long:  `Upload an audio file to a running router and print the transcript.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func init() {
	transcribeCmd.Flags().IntVar(&transcribeTimeout, "timeout", 120, "request timeout in seconds")
	transcribeCmd.Flags().StringVar(&serverURL, "server", "", "router base URL (default from config)")
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	base, err := resolveServerURL()
	if err != nil {
		return err
	}

	client := newAPIClient(base, time.Duration(transcribeTimeout)*time.Second)
	text, err := client.Transcribe(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
