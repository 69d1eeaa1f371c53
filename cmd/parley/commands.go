package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley"
	"github.com/parley-ai/parley/internal/provider"
	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/config"
	"github.com/parley-ai/parley/pkg/ledger"
)

// commonFlags are shared by chat and ask.
type commonFlags struct {
	configPath string
	provider   string
	model      string
	system     string
	maxTokens  int
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&f.provider, "provider", "p", "", "Backend provider (anthropic, openai, gemini)")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model identifier")
	cmd.Flags().StringVar(&f.system, "system", "", "System prompt")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "Maximum response tokens")
}

func (f *commonFlags) open() (*parley.Client, *config.Config, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	client, err := parley.Open(cfg, f.provider)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

func (f *commonFlags) options() []chat.Option {
	var opts []chat.Option
	if f.model != "" {
		opts = append(opts, chat.WithModel(f.model))
	}
	if f.system != "" {
		opts = append(opts, chat.WithSystemPrompt(f.system))
	}
	if f.maxTokens > 0 {
		opts = append(opts, chat.WithMaxTokens(f.maxTokens))
	}
	return opts
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		def := home + "/.parley/config.yaml"
		if _, statErr := os.Stat(def); statErr == nil {
			return config.LoadConfig(def)
		}
	}
	return config.Default(), nil
}

func buildChatCmd() *cobra.Command {
	var flags commonFlags
	var resume string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Example: `  # New conversation with the default provider
  parley chat

  # Resume a saved conversation on Gemini
  parley chat -p gemini --resume 4f7c2a1e`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := flags.open()
			if err != nil {
				return err
			}
			defer client.Close()

			shutdown := parley.InitObservability(cfg)
			defer shutdown(context.Background())

			var conv *chat.Conversation
			if resume != "" {
				conv, err = client.Resume(cmd.Context(), resume, flags.options()...)
			} else {
				conv, err = client.Conversation(flags.options()...)
			}
			if err != nil {
				return err
			}
			return runREPL(cmd.Context(), conv)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&resume, "resume", "", "Resume a conversation by id")
	return cmd
}

func buildAskCmd() *cobra.Command {
	var flags commonFlags
	var schemaPath string

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := flags.open()
			if err != nil {
				return err
			}
			defer client.Close()

			conv, err := client.Conversation(flags.options()...)
			if err != nil {
				return err
			}

			inputs := make([]any, len(args))
			for i, a := range args {
				inputs[i] = a
			}

			if schemaPath != "" {
				schema, err := os.ReadFile(schemaPath)
				if err != nil {
					return fmt.Errorf("read schema: %w", err)
				}
				out, err := conv.AskStructured(cmd.Context(), schema, inputs...)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			reply, err := conv.Ask(cmd.Context(), inputs...)
			if err != nil {
				return err
			}
			fmt.Println(reply.Text)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&schemaPath, "schema", "", "JSON schema file for structured output")
	return cmd
}

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved conversations",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsShowCmd(), buildSessionsDeleteCmd(), buildSessionsPruneCmd())
	return cmd
}

func buildSessionsPruneCmd() *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune conversations idle past the configured retention limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := flags.open()
			if err != nil {
				return err
			}
			defer client.Close()

			pruned, err := client.PruneIdle(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d conversations.\n", pruned)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := flags.open()
			if err != nil {
				return err
			}
			defer client.Close()

			infos, err := client.Store().List(cmd.Context())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No saved conversations.")
				return nil
			}
			for _, info := range infos {
				fmt.Printf("%-38s  %3d entries  %s\n",
					info.ID, info.Entries, info.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Print a conversation's ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := flags.open()
			if err != nil {
				return err
			}
			defer client.Close()

			entries, err := client.Store().Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("[%d] %s (%d tokens)\n", e.Index, e.Kind, e.Tokens)
				var pretty json.RawMessage
				if json.Unmarshal(e.Data, &pretty) == nil {
					out, _ := json.MarshalIndent(pretty, "  ", "  ")
					fmt.Printf("  %s\n", out)
				}
			}
			fmt.Printf("Total tokens: %d\n", ledger.TotalTokens(entries))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func buildSessionsDeleteCmd() *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := flags.open()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Store().Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Deleted", args[0])
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func buildProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List available backend providers",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range provider.List() {
				fmt.Println(name)
			}
		},
	}
}
