// replicant-client connects to a replicant-server, registers a named
// replicant, logs its value once it is ready (or warns after 5s), and
// then keeps the mirror connected until SIGINT/SIGTERM. It does not
// print later updates and makes no edits of its own.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/replicant/config"
	"github.com/rcowham/replicant/internal/client"
	"github.com/rcowham/replicant/internal/transport/ws"
)

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"Config file for replicant-client.",
		).Default("replicant-client.yaml").Short('c').String()
		serverURL = kingpin.Flag(
			"server",
			"Server WebSocket URL (overrides config).",
		).Short('s').String()
		name = kingpin.Arg(
			"replicant",
			"Name of the replicant to mirror.",
		).Required().String()
		debug = kingpin.Flag(
			"debug",
			"Enable debug-level logging.",
		).Bool()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version("replicant-client 0.1.0").Author("Robert Cowham")
	kingpin.CommandLine.Help = "Connects to a replicant-server and mirrors one named replicant\n"
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
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "ws://localhost:8080/ws"
	}
	logger.Infof("Starting replicant-client, server=%s replicant=%s", cfg.ServerURL, *name)

	sock, err := ws.Dial(cfg.ServerURL, ws.Options{Logger: logger})
	if err != nil {
		logger.Errorf("error connecting to %s: %v", cfg.ServerURL, err)
		os.Exit(1)
	}

	c, err := client.New(sock, client.Options{MaxHistory: cfg.MaxHistory, Logger: logger})
	if err != nil {
		logger.Errorf("error starting client: %v", err)
		os.Exit(1)
	}

	r := c.GetReplicant(*name)
	select {
	case <-c.Ready(*name):
		logger.Infof("replicant %q ready: %+v", *name, r.Value())
	case <-time.After(5 * time.Second):
		logger.Warnf("replicant %q not ready after 5s, continuing anyway", *name)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}
