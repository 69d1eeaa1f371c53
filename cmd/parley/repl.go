package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/parley-ai/parley/pkg/chat"
)

// runREPL drives the interactive loop. Lines starting with "/" are local
// commands; everything else is sent as a turn.
func runREPL(ctx context.Context, conv *chat.Conversation) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := replHistoryPath()
	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer saveHistory(line, historyPath)
	}

	fmt.Printf("Conversation %s (%s). Type /help for commands.\n", conv.ID(), conv.Provider())

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := replCommand(ctx, conv, input); quit {
				return nil
			}
			continue
		}

		reply, err := conv.Ask(ctx, input)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			continue
		}
		if reply.Reasoning != "" {
			fmt.Printf("(thinking) %s\n\n", reply.Reasoning)
		}
		fmt.Println(reply.Text)
	}
}

// replCommand handles slash commands; returns true to exit.
func replCommand(ctx context.Context, conv *chat.Conversation, input string) bool {
	switch input {
	case "/quit", "/exit":
		return true
	case "/id":
		fmt.Println(conv.ID())
	case "/reset":
		if err := conv.Reset(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		} else {
			fmt.Println("Conversation reset.")
		}
	case "/tokens":
		entries, err := conv.Entries(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			break
		}
		total := 0
		for _, e := range entries {
			total += e.Tokens
		}
		fmt.Printf("%d entries, %d tokens\n", len(entries), total)
	case "/help":
		fmt.Println("/id      show the conversation id")
		fmt.Println("/tokens  show ledger size and token usage")
		fmt.Println("/reset   discard the conversation")
		fmt.Println("/quit    exit")
	default:
		fmt.Println("Unknown command. Type /help.")
	}
	return false
}

func replHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := home + "/.parley"
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	return dir + "/history"
}

func saveHistory(line *liner.State, path string) {
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}
