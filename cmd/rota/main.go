package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotalabs/rota/config"
	"github.com/rotalabs/rota/networking"
	"github.com/rotalabs/rota/node"
)

func main() {
	var (
		genesisPath   string
		authorityID   string
		listenAddr    string
		bootnodes     string
		bootnodesFile string
		dataDir       string
		network       string
		exportPath    string
		logLevel      string
	)

	flag.StringVar(&genesisPath, "genesis", "", "Path to the genesis YAML file (required)")
	flag.StringVar(&authorityID, "authority", "", "Authority identifier to propose as (empty runs an observer)")
	flag.StringVar(&listenAddr, "listen", "/ip4/0.0.0.0/udp/9000/quic-v1", "Listen address")
	flag.StringVar(&bootnodes, "bootnodes", "", "Comma-separated bootnode multiaddrs")
	flag.StringVar(&bootnodesFile, "bootnodes-file", "", "Path to a bootnodes YAML file")
	flag.StringVar(&dataDir, "datadir", "", "Block database directory (empty keeps blocks in memory)")
	flag.StringVar(&network, "network", networking.DefaultNetwork, "Network name, used in gossip topics")
	flag.StringVar(&exportPath, "export", "", "Write a registry snapshot to this path on shutdown")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Setup logger
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if genesisPath == "" {
		fmt.Fprintln(os.Stderr, "a genesis file is required (-genesis)")
		os.Exit(1)
	}

	genesis, err := config.LoadGenesis(genesisPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load genesis: %v\n", err)
		os.Exit(1)
	}

	// Collect bootnodes from the flag and the optional file
	var bootnodeList []string
	if bootnodes != "" {
		bootnodeList = strings.Split(bootnodes, ",")
	}
	if bootnodesFile != "" {
		fromFile, err := config.LoadBootnodes(bootnodesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load bootnodes: %v\n", err)
			os.Exit(1)
		}
		bootnodeList = append(bootnodeList, fromFile...)
	}

	cfg := &node.Config{
		Genesis:     genesis,
		AuthorityID: authorityID,
		ListenAddrs: []string{listenAddr},
		Bootnodes:   bootnodeList,
		Network:     network,
		DataDir:     dataDir,
		ExportPath:  exportPath,
		Logger:      logger,
	}

	// Create node
	ctx := context.Background()
	n, err := node.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create node: %v\n", err)
		os.Exit(1)
	}

	// Start node
	n.Start()

	logger.Info("rota authority node running",
		"network", network,
		"peers", n.PeerCount(),
	)

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	n.Stop()
}
