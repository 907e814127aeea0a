package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/r-smith/decoywire/internal/auditlog"
	"github.com/r-smith/decoywire/internal/collector"
	"github.com/r-smith/decoywire/internal/config"
	"github.com/r-smith/decoywire/internal/console"
	"github.com/r-smith/decoywire/internal/tracker"
)

func main() {
	// Initialize a config struct for parsing command-line flags.
	cfg := config.Collector{}

	// Parse command line flags.
	configPath := flag.String("config", "", "Path to optional XML configuration file")
	flag.StringVar(&cfg.Port, "port", config.DefaultCollectorPort, "Port number to listen on for sensor reports")
	flag.StringVar(&cfg.LogPath, "log", config.DefaultCollectorLogPath, "Path to audit log file")
	flag.StringVar(&cfg.DatabasePath, "database", config.DefaultDatabasePath, "Path to peer database file")
	flag.IntVar(&cfg.MaxConnections, "max-connections", config.DefaultMaxConnections, "Maximum number of concurrent report connections")
	flag.Parse()

	// If the `-config` flag is not provided, use "config.xml" from the
	// current directory if the file exists.
	if len(*configPath) == 0 {
		if _, err := os.Stat("config.xml"); err == nil {
			*configPath = "config.xml"
			fmt.Printf("Using configuration file: '%v'\n", *configPath)
		}
	}

	// If a config file is specified (via the `-config` flag or "config.xml"),
	// load it. Otherwise, configure the app using the command line flags and
	// default settings.
	if len(*configPath) > 0 {
		cfgFromFile, err := config.Load(*configPath)
		if err != nil {
			log.Fatalln("Shutting down. Failed to load configuration file:", err)
		}
		cfg = cfgFromFile.Collector
		if len(cfg.LogPath) == 0 {
			cfg.LogPath = config.DefaultCollectorLogPath
		}
		if len(cfg.DatabasePath) == 0 {
			cfg.DatabasePath = config.DefaultDatabasePath
		}
	}

	// Load the peer database and start the periodic save loop.
	trk := tracker.New(cfg.DatabasePath)
	if err := trk.Load(); err != nil {
		log.Fatalln("Shutting down. Failed to load peer database:", err)
	}
	console.Info(console.Track, "Tracking %d known peers", trk.Count())
	trk.Start()
	defer trk.Close()

	// The audit log records every received report, valid or not.
	store := auditlog.Open(cfg.LogPath)
	defer store.Close()

	srv := collector.Server{Config: cfg, Store: store, Tracker: trk}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalln("Shutting down. Collector server failed:", err)
	}
}
