package config

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// This block of constants defines the default application settings when no
// configuration file is provided.
const (
	DefaultCollectorPort    = "8080"
	DefaultCollectorLogPath = "decoywire-collector-log.txt"
	DefaultDatabasePath     = "decoywire-database.csv"
	DefaultMaxConnections   = 256
	DefaultCollectorAddress = "127.0.0.1:8080"
	DefaultSensorLogPath    = "decoywire-sensor-log.txt"
	DefaultCaptureLogPath   = "decoywire-capture-log.txt"
	DefaultEnableSSH        = true
	DefaultEnableTelnet     = true
	DefaultEnableRDP        = true
	DefaultKeyPathSSH       = "decoywire-ssh.key"
	DefaultBannerSSH        = "SSH-2.0-OpenSSH_9.3 FreeBSD-20230316" // SSH banner for FreeBSD 13.2
	DefaultBannerTelnet     = "Ubuntu 22.04.3 LTS\\n"
)

// Config holds the configuration settings for the application. A single file
// configures both roles: the central collector and the sensor agents deployed
// alongside it. Each binary reads only its own section.
type Config struct {
	Collector Collector `xml:"collector"`
	Sensor    Sensor    `xml:"sensor"`
}

// Collector holds the settings for the central report collector.
type Collector struct {
	Port           string `xml:"port"`
	LogPath        string `xml:"logPath"`
	DatabasePath   string `xml:"databasePath"`
	MaxConnections int    `xml:"maxConnections"`
}

// Sensor holds the settings for a sensor agent: the collector it reports to,
// its local audit log, and the collection of listeners it monitors.
type Sensor struct {
	CollectorAddress string     `xml:"collectorAddress"`
	LogPath          string     `xml:"logPath"`
	CaptureLogPath   string     `xml:"captureLogPath"`
	Listeners        []Listener `xml:"listeners>listener"`
}

// Load reads an optional XML configuration file and unmarshals its contents
// into a Config struct. Any errors encountered opening or decoding the file
// are returned. When decoding is successful, the populated Config struct is
// returned.
func Load(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	xmlBytes, _ := io.ReadAll(file)
	err = xml.Unmarshal(xmlBytes, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode XML file: %w", err)
	}

	// Fall back to defaults for missing values.
	if len(config.Collector.Port) == 0 {
		config.Collector.Port = DefaultCollectorPort
	}
	if config.Collector.MaxConnections < 1 {
		config.Collector.MaxConnections = DefaultMaxConnections
	}
	if len(config.Sensor.CollectorAddress) == 0 {
		config.Sensor.CollectorAddress = DefaultCollectorAddress
	}
	for i := range config.Sensor.Listeners {
		if len(config.Sensor.Listeners[i].Port) == 0 {
			config.Sensor.Listeners[i].Port = config.Sensor.Listeners[i].Protocol.DefaultPort()
		}
	}

	return &config, nil
}

// InitializeLoggers creates structured loggers for each listener. It opens log
// files using the listener's specified log path, defaulting to the sensor's
// capture log path if none is provided.
func (s *Sensor) InitializeLoggers() error {
	for i := range s.Listeners {
		if !s.Listeners[i].Enabled {
			continue
		}

		// Use the sensor's capture log path if the listener log path is not
		// specified.
		var logPath string
		if len(s.Listeners[i].LogPath) > 0 {
			logPath = s.Listeners[i].LogPath
		} else {
			logPath = s.CaptureLogPath
		}

		// If no log path is given or if logging is disabled, set up a dummy
		// logger to discard output.
		if len(logPath) == 0 || !s.Listeners[i].LogEnabled {
			s.Listeners[i].Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			continue
		}

		// Open the specified log file and create a new logger.
		logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		s.Listeners[i].LogFile = logFile
		s.Listeners[i].Logger = slog.New(slog.NewJSONHandler(s.Listeners[i].LogFile, &slog.HandlerOptions{
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				// Remove 'message' and 'log level' fields from output.
				if a.Key == slog.MessageKey || a.Key == slog.LevelKey {
					return slog.Attr{}
				}
				return a
			},
		}))
	}

	return nil
}

// CloseLogFiles closes all open log file handles for the listeners. This
// function should be called when the application is shutting down.
func (s *Sensor) CloseLogFiles() {
	for i := range s.Listeners {
		if s.Listeners[i].LogFile != nil {
			_ = s.Listeners[i].LogFile.Close()
		}
	}
}
