// Package main is the entry point for the triage load test binary.
// It provides subcommands for different scenarios:
//
//   - flood: sustained analyze traffic at a target request rate
//   - probe: a single analyze batch with the decisions printed
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "flood":
		runFlood(os.Args[2:])
	case "probe":
		runProbe(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  flood    Sustained load test — posts analyze batches at a target rate")
	fmt.Println("  probe    Smoke test — posts one batch and prints each decision")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
