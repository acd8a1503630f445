// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"peersignal/internal/authz"
	"peersignal/internal/config"
	"peersignal/internal/directory"
	"peersignal/internal/ledger"
	"peersignal/internal/presence"
	"peersignal/internal/server"
	"peersignal/internal/signaling"
	"peersignal/internal/util"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("peersignal v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: data directory required")
		fmt.Fprintln(os.Stderr, "Usage: peersignal <data-directory>")
		os.Exit(1)
	}

	run(args[0])
}

func run(dataDirArg string) {
	absDir, err := filepath.Abs(dataDirArg)
	if err != nil {
		log.Fatalf("Invalid data directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Create data directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, "peersignal.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Created default config: %s", cfgPath)
	}

	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	dbPath := util.ResolvePath(absDir, cfg.Storage.DBPath)
	store, err := directory.Open(dbPath)
	if err != nil {
		log.Fatalf("Open directory store: %v", err)
	}
	defer store.Close()

	led, err := ledger.Open(dbPath)
	if err != nil {
		log.Fatalf("Open connection ledger: %v", err)
	}
	defer led.Close()
	led.SetActiveWindow(time.Duration(cfg.Presence.ActiveWindowSec) * time.Second)

	signer, err := directory.NewFileSigner(util.ResolvePath(absDir, cfg.Identity.KeyFile))
	if err != nil {
		log.Fatalf("Load signing key: %v", err)
	}
	if err := signer.Watch(); err != nil {
		log.Printf("WARNING: key watch disabled: %v", err)
	}
	defer signer.Close()

	registry := presence.NewRegistry()
	registry.SetOnlineWindow(time.Duration(cfg.Presence.OnlineWindowSec) * time.Second)

	gate := authz.New(store, store, led)
	svc := signaling.New(store, gate, registry, led, directory.Ed25519Verifier{}, signer)

	srv := server.New(
		cfg.Server.ListenAddr, cfg.Server.ExternalURL, cfg.Server.AdminPassword,
		store, store, registry, led, svc, cfg.Signaling,
	)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Signaling server failed: %v", err)
	}
	log.Printf("signaling server listening at %s", srv.URL())

	<-ctx.Done()
}

func printBanner(dataDir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                 Peersignal Server                      ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Data Directory: %s\n", dataDir)
	fmt.Printf("Config File:    %s\n", cfgPath)
	fmt.Printf("Listen Addr:    %s\n", cfg.Server.ListenAddr)
	if cfg.Server.ExternalURL != "" {
		fmt.Printf("External URL:   %s\n", cfg.Server.ExternalURL)
	}
	fmt.Println()
	fmt.Println("Starting server... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}

func showUsage() {
	fmt.Println("peersignal - friend-gated peer signaling server")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  peersignal <data-directory>   Run the signaling server")
	fmt.Println()
	fmt.Println("The data directory holds peersignal.json (created with defaults")
	fmt.Println("on first run), the SQLite database and the server signing key.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
}
