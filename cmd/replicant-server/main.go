// replicant-server runs the authoritative server side of a replicant
// service: it loads configuration, opens a WebSocket listener, and
// wires internal/server against it.
package main

import (
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/replicant/config"
	"github.com/rcowham/replicant/internal/server"
	"github.com/rcowham/replicant/internal/transport/ws"
)

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"Config file for replicant-server.",
		).Default("replicant-server.yaml").Short('c').String()
		listenAddr = kingpin.Flag(
			"listen",
			"Address to listen on (overrides config).",
		).Short('l').String()
		roomPrefix = kingpin.Flag(
			"room.prefix",
			"Room name prefix for replicant names (overrides config).",
		).String()
		debug = kingpin.Flag(
			"debug",
			"Enable debug-level logging.",
		).Bool()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version("replicant-server 0.1.0").Author("Robert Cowham")
	kingpin.CommandLine.Help = "Runs the authoritative replicant server\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}

	cfg, err := config.LoadConfigFile(*configFile)
	if err != nil {
		logger.Warnf("no config file loaded, using defaults: %v", err)
		cfg, err = config.LoadConfigString(nil)
		if err != nil {
			logger.Errorf("error building default config: %v", err)
			os.Exit(1)
		}
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *roomPrefix != "" {
		cfg.RoomPrefix = *roomPrefix
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	logger.Infof("Starting replicant-server, listen=%s room_prefix=%s", cfg.ListenAddr, cfg.RoomPrefix)

	mux := http.NewServeMux()
	path := "/ws"
	if cfg.Namespace != "" && cfg.Namespace != config.DefaultNamespace {
		path = "/ws" + cfg.Namespace
	}
	ns := ws.NewNamespace(mux, ws.Options{Path: path, Logger: logger})
	defer ns.Close()

	if _, err := server.New(ns, server.Options{
		RoomPrefix: cfg.RoomPrefix,
		MaxHistory: cfg.MaxHistory,
		Logger:     logger,
	}); err != nil {
		logger.Errorf("error starting server: %v", err)
		os.Exit(1)
	}

	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		logger.Errorf("listener stopped: %v", err)
		os.Exit(1)
	}
}
