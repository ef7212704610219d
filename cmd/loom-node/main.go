// Command loom-node runs a LOOM node hosting logical devices on a mesh.
//
// Usage:
//
//	loom-node [flags]
//
// Flags:
//
//	-config string      YAML configuration file path
//	-addr uint          Physical mesh address (overrides config)
//	-name string        Node name (overrides config)
//	-log-level string   Console log level: debug, info, warn, error
//	-log-file string    Append CBOR protocol events to this file
//	-interactive        Start the interactive shell
//
// Examples:
//
//	# Start a node from a config file
//	loom-node -config /etc/loom/kitchen.yaml
//
//	# Start an ad-hoc node with an interactive shell
//	loom-node -addr 42 -interactive -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loom-protocol/loom-go/pkg/config"
	"github.com/loom-protocol/loom-go/pkg/log"
	"github.com/loom-protocol/loom-go/pkg/node"
)

var flags struct {
	config      string
	addr        uint
	name        string
	logLevel    string
	logFile     string
	interactive bool
}

func init() {
	flag.StringVar(&flags.config, "config", "", "YAML configuration file path")
	flag.UintVar(&flags.addr, "addr", 0, "Physical mesh address (overrides config)")
	flag.StringVar(&flags.name, "name", "", "Node name (overrides config)")
	flag.StringVar(&flags.logLevel, "log-level", "", "Console log level: debug, info, warn, error")
	flag.StringVar(&flags.logFile, "log-file", "", "Append CBOR protocol events to this file")
	flag.BoolVar(&flags.interactive, "interactive", false, "Start the interactive shell")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		stdlog.Fatalf("Configuration error: %v", err)
	}

	logger, closeLogs, err := buildLogger(cfg)
	if err != nil {
		stdlog.Fatalf("Logging setup failed: %v", err)
	}
	defer closeLogs()

	n, err := node.New(node.Options{Config: cfg, Logger: logger})
	if err != nil {
		stdlog.Fatalf("Failed to create node: %v", err)
	}
	defer n.Close()

	stdlog.Printf("LOOM node %q up: addr=%d transport=%s session=%s",
		cfg.Node.Name, cfg.Node.Addr, cfg.Mesh.Transport, n.SessionID())
	for _, d := range n.Manager().Devices() {
		stdlog.Printf("  device %q on port %d (%s)", d.Name(), d.Port(), d.DeviceClass())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		stdlog.Println("Shutting down")
		cancel()
	}()

	if flags.interactive {
		shell, err := newShell(n)
		if err != nil {
			stdlog.Fatalf("Failed to start shell: %v", err)
		}
		go shell.Run(ctx, cancel)
	}

	if err := n.Run(ctx); err != nil {
		stdlog.Fatalf("Node stopped: %v", err)
	}
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if flags.config != "" {
		var err error
		cfg, err = config.Load(flags.config)
		if err != nil {
			return cfg, err
		}
	}
	if flags.addr != 0 {
		cfg.Node.Addr = uint32(flags.addr)
	}
	if flags.name != "" {
		cfg.Node.Name = flags.name
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFile != "" {
		cfg.Log.File = flags.logFile
	}
	return cfg, cfg.Validate()
}

// buildLogger assembles the protocol event sinks: an slog console bridge
// plus an optional CBOR file log.
func buildLogger(cfg config.Config) (log.Logger, func(), error) {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}

	console := log.NewSlogAdapter(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	if cfg.Log.File == "" {
		return console, func() {}, nil
	}

	fileLog, err := log.NewFileLogger(cfg.Log.File)
	if err != nil {
		return nil, nil, err
	}
	return log.NewMultiLogger(console, fileLog), func() { fileLog.Close() }, nil
}
