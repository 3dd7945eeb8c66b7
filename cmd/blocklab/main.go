package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "blocklab",
	Short: "BlockLab - collaborative block-coding tutor server",
	Long: `BlockLab is the server for a collaborative visual programming tutor.

It keeps every browser tab of a session in sync over WebSockets, runs user
programs in an isolated sandbox, streams their log output back into the
session record, and relays the dialogue to an AI tutor.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
