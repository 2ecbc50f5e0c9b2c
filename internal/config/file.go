package config

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config with string durations to keep TOML friendly
type FileConfig struct {
	Server       ServerSection    `toml:"server"`
	Printer      PrinterSection   `toml:"printer"`
	Discovery    DiscoverySection `toml:"discovery"`
	Jobs         JobsSection      `toml:"jobs"`
	RegistryPath string           `toml:"registry_path"`
	LogLevel     string           `toml:"log_level"`
}

type ServerSection struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type PrinterSection struct {
	Port           int    `toml:"port"`
	ConnectTimeout string `toml:"connect_timeout"`
	WriteTimeout   string `toml:"write_timeout"`
	FeedLines      *int   `toml:"feed_lines"`
	Cut            *bool  `toml:"cut"`
}

type DiscoverySection struct {
	Timeout       string `toml:"timeout"`
	BroadcastPort int    `toml:"broadcast_port"`
	Probe         string `toml:"probe"`
	MDNS          *bool  `toml:"mdns"`
	MDNSService   string `toml:"mdns_service"`
	ScanInterval  string `toml:"scan_interval"`
}

type JobsSection struct {
	MaxRetries *int   `toml:"max_retries"`
	RetryDelay string `toml:"retry_delay"`
}

// LoadFileConfig reads and parses a TOML config file
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// ApplyFileConfig copies file values into cfg, skipping flags in changed
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("host", fc.Server.Host, &cfg.Host)
	s.setInt("port", fc.Server.Port, &cfg.Port)

	s.setInt("printer-port", fc.Printer.Port, &cfg.PrinterPort)
	if err := s.setDuration("connect-timeout", fc.Printer.ConnectTimeout, &cfg.ConnectTimeout); err != nil {
		return err
	}
	if err := s.setDuration("write-timeout", fc.Printer.WriteTimeout, &cfg.WriteTimeout); err != nil {
		return err
	}
	s.setIntPtr("feed-lines", fc.Printer.FeedLines, &cfg.FeedLines)
	s.setBool("cut", fc.Printer.Cut, &cfg.Cut)

	if err := s.setDuration("discovery-timeout", fc.Discovery.Timeout, &cfg.DiscoveryTimeout); err != nil {
		return err
	}
	s.setInt("broadcast-port", fc.Discovery.BroadcastPort, &cfg.BroadcastPort)
	s.setString("probe", fc.Discovery.Probe, &cfg.Probe)
	s.setBool("mdns", fc.Discovery.MDNS, &cfg.MDNS)
	s.setString("mdns-service", fc.Discovery.MDNSService, &cfg.MDNSService)
	if err := s.setDuration("scan-interval", fc.Discovery.ScanInterval, &cfg.ScanInterval); err != nil {
		return err
	}

	s.setIntPtr("max-retries", fc.Jobs.MaxRetries, &cfg.MaxRetries)
	if err := s.setDuration("retry-delay", fc.Jobs.RetryDelay, &cfg.RetryDelay); err != nil {
		return err
	}

	s.setString("registry", fc.RegistryPath, &cfg.RegistryPath)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	return nil
}

// ApplyEnvConfig applies NETPRINT_* environment variables, skipping flags in
// changed
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("host", os.Getenv("NETPRINT_HOST"), &cfg.Host)
	if err := s.setIntFromString("port", os.Getenv("NETPRINT_PORT"), &cfg.Port); err != nil {
		return err
	}

	if err := s.setIntFromString("printer-port", os.Getenv("NETPRINT_PRINTER_PORT"), &cfg.PrinterPort); err != nil {
		return err
	}
	if err := s.setDuration("connect-timeout", os.Getenv("NETPRINT_CONNECT_TIMEOUT"), &cfg.ConnectTimeout); err != nil {
		return err
	}
	if err := s.setDuration("write-timeout", os.Getenv("NETPRINT_WRITE_TIMEOUT"), &cfg.WriteTimeout); err != nil {
		return err
	}
	if err := s.setIntFromString("feed-lines", os.Getenv("NETPRINT_FEED_LINES"), &cfg.FeedLines); err != nil {
		return err
	}
	s.setBoolFromString("cut", os.Getenv("NETPRINT_CUT"), &cfg.Cut)

	if err := s.setDuration("discovery-timeout", os.Getenv("NETPRINT_DISCOVERY_TIMEOUT"), &cfg.DiscoveryTimeout); err != nil {
		return err
	}
	if err := s.setIntFromString("broadcast-port", os.Getenv("NETPRINT_BROADCAST_PORT"), &cfg.BroadcastPort); err != nil {
		return err
	}
	s.setString("probe", os.Getenv("NETPRINT_PROBE"), &cfg.Probe)
	s.setBoolFromString("mdns", os.Getenv("NETPRINT_MDNS"), &cfg.MDNS)
	s.setString("mdns-service", os.Getenv("NETPRINT_MDNS_SERVICE"), &cfg.MDNSService)
	if err := s.setDuration("scan-interval", os.Getenv("NETPRINT_SCAN_INTERVAL"), &cfg.ScanInterval); err != nil {
		return err
	}

	if err := s.setIntFromString("max-retries", os.Getenv("NETPRINT_MAX_RETRIES"), &cfg.MaxRetries); err != nil {
		return err
	}
	if err := s.setDuration("retry-delay", os.Getenv("NETPRINT_RETRY_DELAY"), &cfg.RetryDelay); err != nil {
		return err
	}

	s.setString("registry", os.Getenv("NETPRINT_REGISTRY"), &cfg.RegistryPath)
	s.setString("log-level", os.Getenv("NETPRINT_LOG_LEVEL"), &cfg.LogLevel)

	return nil
}

// Load layers the file at path (when it exists) and the environment over
// base, then validates. base should already hold flag values; changed names
// the flags that were set explicitly.
func Load(path string, base Config, changed map[string]bool) (Config, error) {
	cfg := base

	if path != "" && FileExists(path) {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
			return cfg, err
		}
	}

	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}
