package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/modwatch/chat-triage/loadtest/client"
)

// runProbe posts a single analyze batch and prints each decision. With
// no positional arguments it sends a built-in sample mix, which makes
// it a quick smoke test against a fresh server.
func runProbe(args []string) {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8484", "Triage server base URL")
	user := fs.String("user", "probe", "Username to attribute the messages to")
	fs.Parse(args)

	texts := fs.Args()
	if len(texts) == 0 {
		texts = []string{
			"hello there, how is everyone doing",
			"FREE COINS CLICK NOW http://spam.example/win http://spam.example/win2",
			"gg",
		}
	}

	batch := make([]client.ChatMessage, len(texts))
	for i, text := range texts {
		batch[i] = client.ChatMessage{Username: *user, Text: text}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	c := client.New(*url)
	if err := c.Health(ctx); err != nil {
		fmt.Printf("Server not reachable: %v\n", err)
		return
	}

	decisions, latency, err := c.Analyze(ctx, batch)
	if err != nil {
		fmt.Printf("Analyze failed: %v\n", err)
		return
	}

	fmt.Printf("Analyzed %d message(s) in %v\n\n", len(batch), latency.Round(time.Millisecond))
	for i, d := range decisions {
		fmt.Printf("  [%d] %-6s %s\n", i, d.Verdict, d.Reason)
		fmt.Printf("      %q\n", truncate(batch[i].Text, 60))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
