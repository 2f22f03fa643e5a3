package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/john/chatmux/internal/kick"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: resolve-kick-channels <channel1> [channel2] ...")
		fmt.Println("\nExample:")
		fmt.Println("  resolve-kick-channels paymoneywubby xqc")
		os.Exit(1)
	}

	channels := os.Args[1:]
	fmt.Printf("Resolving %d Kick channel(s)...\n\n", len(channels))

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(len(channels))*15*time.Second)
	defer cancel()

	resolver := kick.NewResolver()
	if base := os.Getenv("KICK_API_BASE"); base != "" {
		resolver.BaseURL = base
	}

	results := make(map[string]int)
	var failed []string
	for _, channel := range channels {
		id, slug, err := resolver.Resolve(ctx, channel)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", channel, err))
			continue
		}
		results[slug] = id
	}

	if len(results) > 0 {
		slugs := make([]string, 0, len(results))
		for slug := range results {
			slugs = append(slugs, slug)
		}
		sort.Strings(slugs)
		fmt.Println("✓ Successfully resolved:")
		fmt.Println("---")
		for _, slug := range slugs {
			fmt.Printf("%s: %d\n", slug, results[slug])
		}
		fmt.Println()
	}

	if len(failed) > 0 {
		fmt.Println("✗ Failed to resolve:")
		fmt.Println("---")
		for _, line := range failed {
			fmt.Println(line)
		}
		fmt.Println()
	}

	if len(results) > 0 {
		snippet, err := yaml.Marshal(map[string]any{"kick": map[string]any{"chatrooms": results}})
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode snippet:", err)
			os.Exit(1)
		}
		fmt.Println("Add this to your config.yaml:")
		fmt.Println("---")
		fmt.Print(string(snippet))
	}

	if len(failed) > 0 {
		os.Exit(1)
	}
}
