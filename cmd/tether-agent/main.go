// ABOUTME: Entry point for the tether-agent desktop daemon
// ABOUTME: Connects to a relay, registers, and runs approved file and shell operations

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/tetherlabs/tether/internal/agent"
)

// Version is set by goreleaser at build time.
var version = "dev"

const defaultRelayURL = "ws://localhost:8080/ws/agent"

// relayURLDefault prefers the TETHER_RELAY_URL env var over the built-in default.
func relayURLDefault() string {
	if v := os.Getenv("TETHER_RELAY_URL"); v != "" {
		return v
	}
	return defaultRelayURL
}

func main() {
	relayURL := flag.String("relay-url", relayURLDefault(), "relay websocket URL (ws://, wss://, http:// or https://)")
	apiKey := flag.String("api-key", "", "API key for credentialed registration (skips pairing)")
	cwd := flag.String("cwd", "", "initial working directory (defaults to saved state or home)")
	autoApprove := flag.Bool("auto-approve", false, "approve all dangerous operations without asking")
	trust := flag.Bool("trust", false, "trust the session from the start (no approval prompts)")
	reset := flag.Bool("reset", false, "discard saved identity and pairing code, then exit")
	logLevel := flag.String("log-level", "info", "log level (debug/info/warn/error)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	logger := setupLogger(*logLevel)

	statePath, err := agent.DefaultStatePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: resolving state path: %v\n", err)
		os.Exit(1)
	}

	if *reset {
		if err := agent.Reset(statePath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: resetting agent state: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Agent identity reset. A new pairing code will be generated on next start.")
		return
	}

	sup, err := agent.New(agent.Options{
		RelayURL:     *relayURL,
		APIKey:       *apiKey,
		StatePath:    statePath,
		Cwd:          *cwd,
		AutoApprove:  *autoApprove,
		TrustSession: *trust,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	printBanner(sup, *relayURL, *apiKey != "", *autoApprove)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nAgent stopped.")
}

func printBanner(sup *agent.Supervisor, relayURL string, credentialed, autoApprove bool) {
	cyan := color.New(color.FgCyan)
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	st := sup.State()

	fmt.Println()
	cyan.Println("  ┌──────────────────────────────────────────┐")
	cyan.Print("  │")
	bold.Print("              tether agent                ")
	cyan.Println("│")
	cyan.Println("  └──────────────────────────────────────────┘")
	fmt.Println()

	gray.Printf("  version:     %s\n", version)
	fmt.Printf("  relay:       %s\n", relayURL)
	fmt.Printf("  working dir: %s\n", sup.Cwd())

	if credentialed {
		green.Println("  auth:        api key")
	} else {
		fmt.Print("  pairing code: ")
		bold.Println(st.PairingCode)
		gray.Println("  enter this code on the relay to pair")
	}

	switch {
	case autoApprove:
		yellow.Println("  security:    AUTO-APPROVE (all operations allowed)")
	case sup.Trusted():
		yellow.Println("  security:    trusted session")
	default:
		green.Println("  security:    approval required for writes and commands")
	}
	fmt.Println()
}

func setupLogger(levelName string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
