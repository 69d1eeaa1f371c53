// Package main provides the parley CLI: an interactive chat client and
// session manager over the conversational core.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "parley",
		Short: "Provider-agnostic conversational AI client",
		Long: `Parley holds persistent conversations with Anthropic, OpenAI, and
Gemini backends through one interface. Conversations are recorded in a
durable ledger and can be resumed across runs.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		buildChatCmd(),
		buildAskCmd(),
		buildSessionsCmd(),
		buildProvidersCmd(),
		buildVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the parley version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("parley", Version)
		},
	}
}
