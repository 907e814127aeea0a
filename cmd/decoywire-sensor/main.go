package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/r-smith/decoywire/internal/auditlog"
	"github.com/r-smith/decoywire/internal/config"
	"github.com/r-smith/decoywire/internal/sensor"
)

func main() {
	// Initialize config structs for parsing command-line flags.
	cfg := config.Sensor{}
	sshListener := config.Listener{Protocol: config.SSH}
	telnetListener := config.Listener{Protocol: config.Telnet}
	rdpListener := config.Listener{Protocol: config.RDP}

	// Parse command line flags.
	configPath := flag.String("config", "", "Path to optional XML configuration file")
	flag.StringVar(&cfg.CollectorAddress, "collector", config.DefaultCollectorAddress, "Address of the collector in host:port form")
	flag.StringVar(&cfg.LogPath, "log", config.DefaultSensorLogPath, "Path to audit log file")
	flag.StringVar(&cfg.CaptureLogPath, "capture-log", config.DefaultCaptureLogPath, "Path to interaction capture log file")
	flag.BoolVar(&sshListener.Enabled, "enable-ssh", config.DefaultEnableSSH, "Enable SSH listener")
	flag.BoolVar(&telnetListener.Enabled, "enable-telnet", config.DefaultEnableTelnet, "Enable telnet listener")
	flag.BoolVar(&rdpListener.Enabled, "enable-rdp", config.DefaultEnableRDP, "Enable RDP listener")
	flag.StringVar(&sshListener.Port, "port-ssh", config.SSH.DefaultPort(), "Port number to listen on for SSH connections")
	flag.StringVar(&telnetListener.Port, "port-telnet", config.Telnet.DefaultPort(), "Port number to listen on for telnet connections")
	flag.StringVar(&rdpListener.Port, "port-rdp", config.RDP.DefaultPort(), "Port number to listen on for RDP connections")
	flag.StringVar(&sshListener.KeyPath, "ssh-key", config.DefaultKeyPathSSH, "Path to optional SSH private key")
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
		cfg = cfgFromFile.Sensor
		if len(cfg.LogPath) == 0 {
			cfg.LogPath = config.DefaultSensorLogPath
		}
	} else {
		sshListener.Banner = config.DefaultBannerSSH
		telnetListener.Banner = config.DefaultBannerTelnet
		telnetListener.Prompts = []config.Prompt{
			{Text: "login: ", Log: "username"},
			{Text: "Password: ", Log: "password"},
		}
		cfg.Listeners = append(cfg.Listeners, sshListener, telnetListener, rdpListener)
		// Set defaults.
		for i := range cfg.Listeners {
			cfg.Listeners[i].LogEnabled = true
		}
	}

	// Initialize structured loggers for each listener.
	if err := cfg.InitializeLoggers(); err != nil {
		log.Fatalln("Shutting down. Failed to initialize logging:", err)
	}
	defer cfg.CloseLogFiles()

	// The audit log records every observed connection before it is forwarded.
	store := auditlog.Open(cfg.LogPath)
	defer store.Close()

	s := sensor.Sensor{Config: cfg, Store: store}
	if err := s.Run(); err != nil {
		log.Fatalln("Shutting down. Sensor failed:", err)
	}
}
