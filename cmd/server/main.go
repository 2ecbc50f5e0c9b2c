package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/thereceipt/netprint/internal/api"
	"github.com/thereceipt/netprint/internal/command"
	"github.com/thereceipt/netprint/internal/config"
	"github.com/thereceipt/netprint/internal/discovery"
	"github.com/thereceipt/netprint/internal/dispatcher"
	"github.com/thereceipt/netprint/internal/jobs"
	"github.com/thereceipt/netprint/internal/logging"
	"github.com/thereceipt/netprint/internal/printer"
	"github.com/thereceipt/netprint/internal/registry"
	"github.com/thereceipt/netprint/internal/transport"
)

const longHelp = `Print plain text bills to ESC/POS network printers and find them on the LAN.

netprint sends each job over raw TCP (port 9100), switches the printer to UTF-8,
streams the text and feeds paper. Jobs are serialized so only one printer
connection is open at a time. Discovery combines a UDP broadcast probe with an
mDNS browse and returns the de-duplicated addresses that answered in time.

Settings come from defaults, $HOME/.netprint/config.toml, NETPRINT_* environment
variables and flags, each overriding the previous one.`

var exampleUsage = strings.TrimSpace(`
  netprint --port 12212
  netprint --config ./netprint.toml --log-level debug
  netprint --connect-timeout 2s --feed-lines 5 --cut
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := config.Default()
	var cfgPath string

	log := logging.New(cfg.LogLevel)

	root := &cobra.Command{
		Use:          "netprint",
		Short:        "Network receipt printer dispatcher",
		Long:         longHelp,
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = config.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			base := cfg
			loaded, err := config.Load(cfgFile, base, changed)
			if err != nil {
				return err
			}

			log = logging.New(loaded.LogLevel)
			log.Info().Interface("config", loaded).Str("file", cfgFile).Msg("configuration")

			return run(loaded, cfgFile, base, changed, log)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.netprint/config.toml)")
	flags.StringVar(&cfg.Host, "host", cfg.Host, "API listen host")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "API listen port")

	flags.IntVar(&cfg.PrinterPort, "printer-port", cfg.PrinterPort, "printer raw TCP port")
	flags.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "printer connect timeout")
	flags.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "printer send timeout")
	flags.IntVar(&cfg.FeedLines, "feed-lines", cfg.FeedLines, "lines to feed after each bill")
	flags.BoolVar(&cfg.Cut, "cut", cfg.Cut, "cut the paper after each bill")

	flags.DurationVar(&cfg.DiscoveryTimeout, "discovery-timeout", cfg.DiscoveryTimeout, "default discovery window")
	flags.IntVar(&cfg.BroadcastPort, "broadcast-port", cfg.BroadcastPort, "UDP port for the discovery probe")
	flags.StringVar(&cfg.Probe, "probe", cfg.Probe, "discovery probe payload")
	flags.BoolVar(&cfg.MDNS, "mdns", cfg.MDNS, "also browse mDNS during discovery")
	flags.StringVar(&cfg.MDNSService, "mdns-service", cfg.MDNSService, "mDNS service type to browse")
	flags.DurationVar(&cfg.ScanInterval, "scan-interval", cfg.ScanInterval, "rescan the network this often (0 disables)")

	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "retries for queued jobs whose printer is unreachable")
	flags.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "delay between queued job retries")

	flags.StringVar(&cfg.RegistryPath, "registry", "", "printer registry file (default: next to the executable)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("netprint")
		os.Exit(1)
	}
}

func probers(cfg config.Config, log zerolog.Logger) []discovery.Prober {
	list := []discovery.Prober{
		discovery.NewBroadcastProber(cfg.BroadcastPort, []byte(cfg.Probe), log),
	}
	if cfg.MDNS {
		list = append(list, discovery.NewMDNSProber(cfg.MDNSService))
	}
	return list
}

// registerDiscovered records printers found by the monitor on the printer
// port in effect when they appear
func registerDiscovered(reg *registry.Registry, exec *command.Executor) func(address string) {
	return func(address string) {
		_, port := exec.Defaults()
		reg.RegisterDiscovered([]string{address}, port)
	}
}

func run(cfg config.Config, cfgFile string, base config.Config, changed map[string]bool, log zerolog.Logger) error {
	reg, err := registry.New(cfg.RegistryPath, log)
	if err != nil {
		return err
	}

	tcp := transport.NewTCP(cfg.WriteTimeout)
	session := printer.NewSession(tcp, cfg.PrinterOptions(), log)
	finder := discovery.New(log, probers(cfg, log)...)
	d := dispatcher.New(session, finder, log)

	queue := jobs.NewQueue(d, cfg.MaxRetries, cfg.RetryDelay, log)
	defer queue.Stop()

	exec := command.NewExecutor(d, queue, reg, cfg.DiscoveryTimeout, cfg.PrinterPort)
	server := api.NewServer(d, queue, reg, exec, log)

	queue.OnUpdate(server.BroadcastJobUpdated)
	finder.OnFound(server.BroadcastPrinterDiscovered)

	if cfg.ScanInterval > 0 {
		monitor := discovery.NewMonitor(d, cfg.ScanInterval, cfg.DiscoveryTimeout, log)
		monitor.OnAdded(registerDiscovered(reg, exec))
		monitor.OnRemoved(server.BroadcastPrinterLost)
		monitor.Start()
		defer monitor.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := config.NewWatcher(cfgFile, base, changed, func(next config.Config) {
		tcp.SetWriteTimeout(next.WriteTimeout)
		d.Reconfigure(next.PrinterOptions())
		queue.SetRetryPolicy(next.MaxRetries, next.RetryDelay)
		exec.SetDefaults(next.DiscoveryTimeout, next.PrinterPort)
		log.Info().Msg("applied config changes")
	}, log)
	go watcher.Run(ctx)

	log.Info().Str("addr", cfg.ListenAddr()).Str("registry", cfg.RegistryPath).Msg("starting API server")

	if err := server.Run(ctx, cfg.ListenAddr()); err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	log.Info().Msg("shut down")
	return nil
}
