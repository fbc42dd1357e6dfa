// agentmaild is a local inter-agent mailbox daemon: a store-backed
// mailbox with name-based identity, a JSON-RPC tool dispatcher over
// stdio, and a small CLI for operator inspection and maintenance.
//
// Usage:
//
//	agentmaild serve               # start the daemon (default)
//	agentmaild --list-agents       # print registered agents
//	agentmaild --stats             # print self's mailbox stats
//	agentmaild --cleanup           # purge archived messages + vacuum
//	agentmaild version             # show version information
//	agentmaild health              # check the metrics endpoint
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmaild/agentmaild/internal/config"
	"github.com/agentmaild/agentmaild/internal/dispatcher"
	"github.com/agentmaild/agentmaild/internal/identity"
	"github.com/agentmaild/agentmaild/internal/kernel"
	"github.com/agentmaild/agentmaild/internal/lifecycle"
	"github.com/agentmaild/agentmaild/internal/metrics"
	"github.com/agentmaild/agentmaild/internal/orchestrator"
	"github.com/agentmaild/agentmaild/internal/store"
	"github.com/agentmaild/agentmaild/internal/telemetry"
	"github.com/agentmaild/agentmaild/internal/transport"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		runServe(argsAfter(1))
	case "version":
		printVersion()
	case "health":
		runHealthCheck(argsAfter(1))
	case "--list-agents":
		runListAgents()
	case "--stats":
		runStats()
	case "--cleanup":
		runCleanup()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func argsAfter(n int) []string {
	if len(os.Args) <= n+1 {
		return nil
	}
	return os.Args[n+1:]
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.Parse(args)

	cfg, logger, s, resolver, self, collector := bootstrap()
	defer logger.Sync()

	kctx := &kernel.Context{Store: s, Self: self, MachineID: resolver.MachineID(), Logger: logger, Metrics: collector}
	d := dispatcher.New(kctx, collector, logger)
	stdio := transport.NewStdioTransport(os.Stdin, os.Stdout, logger)

	serve := func(ctx context.Context) error {
		return transport.Serve(ctx, stdio, d)
	}

	mgr := lifecycle.New(s, resolver, self, serve, logger)

	if cfg.MetricsAddr != "" {
		metricsSrv := telemetry.NewMetricsServer(cfg.MetricsAddr, logger)
		go func() {
			if err := metricsSrv.Serve(context.Background()); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	summarizer := orchestrator.New(s, orchestrator.DefaultInterval, collector, logger)
	go func() { _ = summarizer.Run(context.Background()) }()

	if err := mgr.Start(context.Background()); err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}

	logger.Info("agentmaild ready", zap.String("self", self), zap.String("version", Version))
	mgr.WaitForShutdown()
}

func runListAgents() {
	_, logger, s, _, _, _ := bootstrap()
	defer logger.Sync()

	agents, err := s.ListAgents(context.Background(), 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list agents failed: %v\n", err)
		os.Exit(1)
	}
	for _, a := range agents {
		fmt.Printf("%s\t%s\t%s\n", a.Name, identity.Status(a.LastSeen), a.LastSeen.Format(time.RFC3339))
	}
}

func runStats() {
	_, logger, s, _, self, _ := bootstrap()
	defer logger.Sync()

	stats, err := s.GetStats(context.Background(), self)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get stats failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("total_inbox=%d unread=%d unread_urgent=%d agents_total=%d\n",
		stats.TotalInbox, stats.UnreadInbox, stats.UnreadUrgent, stats.AgentsTotal)
}

func runCleanup() {
	_, logger, s, _, _, collector := bootstrap()
	defer logger.Sync()

	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	kctx := &kernel.Context{Store: s, Logger: logger, Metrics: collector}
	n, err := kctx.Cleanup(context.Background(), cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup failed: %v\n", err)
		os.Exit(1)
	}
	if sqlStore, ok := s.(*store.SQLStore); ok {
		if err := sqlStore.Vacuum(context.Background()); err != nil {
			logger.Warn("vacuum failed", zap.Error(err))
		}
	}
	fmt.Printf("purged %d archived message(s)\n", n)
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:9090", "Metrics server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/metrics")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("agentmaild %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`agentmaild - local inter-agent mailbox daemon

Usage:
  agentmaild <command> [options]

Commands:
  serve          Start the daemon (default)
  --list-agents  Print registered agents and presence
  --stats        Print self's mailbox stats
  --cleanup      Purge archived messages older than 30 days and vacuum
  version        Show version information
  health         Check the metrics endpoint
  help           Show this help message`)
}

// bootstrap loads config, builds the logger, opens the store, and
// registers this process's identity — the shared setup every subcommand
// needs.
func bootstrap() (*config.Config, *zap.Logger, store.Store, *identity.Resolver, string, *metrics.Collector) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data dir: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(telemetry.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	s, err := store.OpenSQLStore(store.DefaultSQLStoreConfig(cfg.DBPath()), logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	machineID, err := loadOrCreateMachineID(cfg.MachineIDPath())
	if err != nil {
		logger.Fatal("failed to resolve machine id", zap.Error(err))
	}

	resolver := identity.NewResolver(s, machineID, logger)
	self, err := resolver.Register(context.Background(), identity.DetectName())
	if err != nil {
		logger.Fatal("failed to register identity", zap.Error(err))
	}

	collector := metrics.NewCollector("agentmaild", logger)

	return cfg, logger, s, resolver, self, collector
}

func loadOrCreateMachineID(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return string(data), nil
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("write machine id: %w", err)
	}
	return id, nil
}
