// Package config loads netprint settings from defaults, a TOML file,
// NETPRINT_* environment variables and command-line flags, in that order of
// increasing precedence
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/thereceipt/netprint/internal/discovery"
	"github.com/thereceipt/netprint/internal/printer"
	"github.com/thereceipt/netprint/internal/transport"
)

// Config holds all runtime settings
type Config struct {
	Host string
	Port int

	PrinterPort    int
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	FeedLines      int
	Cut            bool

	DiscoveryTimeout time.Duration
	BroadcastPort    int
	Probe            string
	MDNS             bool
	MDNSService      string
	ScanInterval     time.Duration

	MaxRetries int
	RetryDelay time.Duration

	RegistryPath string
	LogLevel     string
}

// Default returns a Config with default values
func Default() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             12212,
		PrinterPort:      transport.DefaultPort,
		ConnectTimeout:   5 * time.Second,
		WriteTimeout:     10 * time.Second,
		FeedLines:        3,
		DiscoveryTimeout: 3 * time.Second,
		BroadcastPort:    discovery.DefaultBroadcastPort,
		Probe:            string(discovery.DefaultProbe),
		MDNS:             true,
		MDNSService:      discovery.DefaultMDNSService,
		MaxRetries:       3,
		RetryDelay:       time.Second,
		LogLevel:         "info",
	}
}

// Validate checks the configuration for errors and sets derived defaults
func (c *Config) Validate() error {
	if err := validPort("port", c.Port); err != nil {
		return err
	}
	if err := validPort("printer-port", c.PrinterPort); err != nil {
		return err
	}
	if err := validPort("broadcast-port", c.BroadcastPort); err != nil {
		return err
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.DiscoveryTimeout < 0 {
		return fmt.Errorf("discovery timeout must not be negative")
	}
	if c.ScanInterval < 0 {
		return fmt.Errorf("scan interval must not be negative")
	}
	if c.ScanInterval > 0 && c.ScanInterval <= c.DiscoveryTimeout {
		return fmt.Errorf("scan interval must be longer than the discovery timeout")
	}
	if c.FeedLines < 0 || c.FeedLines > 255 {
		return fmt.Errorf("feed lines must be between 0 and 255")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}

	if c.Probe == "" {
		c.Probe = string(discovery.DefaultProbe)
	}
	if c.MDNSService == "" {
		c.MDNSService = discovery.DefaultMDNSService
	}
	if c.RegistryPath == "" {
		c.RegistryPath = DefaultRegistryPath()
	}

	return nil
}

func validPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

// ListenAddr is the API server address
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, strconv.Itoa(c.Port))
}

// PrinterOptions returns the session settings
func (c Config) PrinterOptions() printer.Options {
	return printer.Options{
		Port:           c.PrinterPort,
		ConnectTimeout: c.ConnectTimeout,
		FeedLines:      c.FeedLines,
		Cut:            c.Cut,
	}
}

// DefaultConfigPath returns ~/.netprint/config.toml, or "" if the home
// directory is unknown
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".netprint", "config.toml")
	}
	return ""
}

// DefaultRegistryPath places printer_registry.json next to the executable
// when that directory is writable, otherwise in the working directory or the
// user config directory
func DefaultRegistryPath() string {
	const name = "printer_registry.json"

	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		testFile := filepath.Join(exeDir, ".netprint-write-test")
		if f, err := os.Create(testFile); err == nil {
			f.Close()
			os.Remove(testFile)
			return filepath.Join(exeDir, name)
		}
	}

	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, name)
	}

	var configDir string
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			configDir = filepath.Join(appData, "netprint")
		}
	} else if home := os.Getenv("HOME"); home != "" {
		configDir = filepath.Join(home, ".config", "netprint")
	}

	if configDir != "" {
		os.MkdirAll(configDir, 0755)
		return filepath.Join(configDir, name)
	}

	return name
}

// FileExists checks if a file exists at the given path
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
