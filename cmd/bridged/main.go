package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agent-command/bridged/internal/bus"
	"github.com/agent-command/bridged/internal/config"
	"github.com/agent-command/bridged/internal/history"
	"github.com/agent-command/bridged/internal/ingress"
	"github.com/agent-command/bridged/internal/metrics"
	"github.com/agent-command/bridged/internal/permission"
	"github.com/agent-command/bridged/internal/run"
	"github.com/agent-command/bridged/internal/server"
	"github.com/agent-command/bridged/internal/session"
	"github.com/agent-command/bridged/internal/spawn"
)

const defaultConfigPath = "/etc/bridged/config.yaml"

func main() {
	// Check for subcommands first
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status":
			runStatusCommand(os.Args[2:])
			return
		case "sessions":
			runSessionsCommand(os.Args[2:])
			return
		case "version":
			runVersionCommand()
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	// Default: run as daemon
	runDaemon()
}

func printHelp() {
	fmt.Println(`bridged - local bridge between agent CLIs and UI clients

Usage:
  bridged [command] [options]

Commands:
  (none)       Run as daemon (default)
  status       Show daemon status
  sessions     List sessions
  version      Show version information
  help         Show this help

Daemon Options:
  -config string  Path to config file (default "` + defaultConfigPath + `")

Subcommand Options:
  -json         Output in JSON format
  -addr         Daemon HTTP address (default from config)`)
}

func runVersionCommand() {
	fmt.Printf("bridged version %s\n", server.Version)
}

func daemonAddr(configPath, override string) string {
	if override != "" {
		return override
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	return cfg.Server.Listen
}

func runStatusCommand(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	addr := fs.String("addr", "", "Daemon HTTP address")
	fs.Parse(args)

	info, err := fetchJSON(daemonAddr(*configPath, *addr), "/info")
	if err != nil {
		if *jsonOutput {
			outputJSON(map[string]any{"running": false, "error": err.Error()})
		} else {
			fmt.Println("Daemon: not running")
			fmt.Printf("Error:  %v\n", err)
		}
		os.Exit(1)
	}

	if *jsonOutput {
		info["running"] = true
		outputJSON(info)
		return
	}
	fmt.Println("Daemon Status")
	fmt.Println("=============")
	fmt.Printf("Running: true\n")
	fmt.Printf("Version: %v\n", info["version"])
}

func runSessionsCommand(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	addr := fs.String("addr", "", "Daemon HTTP address")
	fs.Parse(args)

	data, err := fetchJSON(daemonAddr(*configPath, *addr), "/sessions")
	if err != nil {
		if *jsonOutput {
			outputJSON(map[string]any{"error": err.Error()})
		} else {
			log.Fatalf("Failed to list sessions: %v", err)
		}
		return
	}

	if *jsonOutput {
		outputJSON(data)
		return
	}

	sessions, _ := data["sessions"].([]any)
	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return
	}
	fmt.Printf("Sessions (%d total)\n", len(sessions))
	for _, entry := range sessions {
		s, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("\n%v\n", s["id"])
		fmt.Printf("  Status:    %v\n", s["status"])
		fmt.Printf("  Connected: %v\n", s["connected"])
		if model, ok := s["model"].(string); ok && model != "" {
			fmt.Printf("  Model:     %s\n", model)
		}
		if dir, ok := s["working_dir"].(string); ok && dir != "" {
			fmt.Printf("  CWD:       %s\n", dir)
		}
	}
}

func fetchJSON(addr, path string) (map[string]any, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned %s", resp.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func outputJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// Bridge wires the daemon's components together.
type Bridge struct {
	cfg     *config.Config
	cfgPath string

	store   *session.Store
	pending *session.PendingQueue
	threads *session.ThreadMap
	bus     *bus.Bus
	metrics *metrics.Metrics
	history *history.Log
	ingress *ingress.Server
	spawner *spawn.Spawner
	runner  *run.Runner
	server  *server.Server
}

func runDaemon() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("No config at %s, using defaults", *configPath)
		cfg = config.DefaultConfig()
	}

	b := &Bridge{cfg: cfg, cfgPath: *configPath}
	if err := b.Run(); err != nil {
		log.Fatalf("Bridge error: %v", err)
	}
}

func (b *Bridge) Run() error {
	b.store = session.NewStore()
	b.pending = session.NewPendingQueue()
	b.threads = session.NewThreadMap()
	b.metrics = metrics.New()

	b.bus = bus.New(b.cfg.Bus.Capacity)
	b.bus.SetDropHandler(b.metrics.BusDropped.Inc)

	if b.cfg.Storage.StateDir != "" {
		hist, err := history.NewLog(
			b.cfg.Storage.StateDir+"/history", b.cfg.Storage.HistoryMaxEntries)
		if err != nil {
			log.Printf("History persistence disabled: %v", err)
		} else {
			b.history = hist
			defer b.history.Close()
		}
	}

	resolver := permission.NewResolver(b.cfg.Permissions.EditAllowTools)
	b.ingress = ingress.New(
		b.store, b.pending, b.bus, b.metrics, b.history, resolver,
		time.Duration(b.cfg.Ingress.WriteTimeoutMs)*time.Millisecond,
	)
	if err := b.ingress.Start(b.cfg.Ingress.Listen); err != nil {
		return fmt.Errorf("start ingress: %w", err)
	}

	b.spawner = spawn.New(b.store, b.pending, b.threads, b.metrics, b.cfg.Spawn, b.ingress.Addr())
	b.runner = run.NewRunner(
		b.store, b.threads, b.bus, b.metrics, b.history,
		b.cfg.Run.WaitAttempts,
		time.Duration(b.cfg.Run.WaitIntervalMs)*time.Millisecond,
	)

	b.server = server.New(b.runner, b.store, b.bus, b.spawner, b.metrics, b.history)
	if err := b.server.Start(b.cfg.Server.Listen); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	// Permission settings follow the config file without a restart.
	stopWatch, err := config.Watch(b.cfgPath, func(next *config.Config) {
		b.ingress.SetResolver(permission.NewResolver(next.Permissions.EditAllowTools))
	})
	if err != nil {
		log.Printf("Config watch disabled: %v", err)
	} else {
		defer stopWatch()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = b.server.Shutdown(ctx)
	_ = b.ingress.Shutdown(ctx)
	return nil
}
