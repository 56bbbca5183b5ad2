// Command proxycheckd is the daemon: it loads the service configuration,
// opens the store, bootstraps check definitions and proxies, then runs the
// worker pool, scheduler, and control-plane API until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"proxycheck/internal/api"
	"proxycheck/internal/config"
	"proxycheck/internal/ingest"
	"proxycheck/internal/logger"
	"proxycheck/internal/manager"
	"proxycheck/internal/store"
	"proxycheck/internal/store/gormstore"
	"proxycheck/internal/worker"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "proxycheckd",
		Short: "Run the proxy-checking daemon: scheduler, worker pool, and control-plane API",
		RunE:  run,
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "proxycheckd.yaml", "path to the service YAML config")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, JSONFormat: cfg.Logging.Format == "json"})
	log.WithField("dsn", cfg.Storage.DSN).Info("opening store")

	st, err := gormstore.Open(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := bootstrap(cfg, st, log); err != nil {
		log.WithError(err).Warn("bootstrap encountered errors")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers := make([]*worker.Worker, cfg.Workers.Count)
	dispatchTargets := make([]manager.DispatchTarget, cfg.Workers.Count)
	for i := range workers {
		w := worker.New(fmt.Sprintf("worker-%d", i), cfg.Workers.MaxInFlight, cfg.Workers.InboxSize, st, log.WithField("worker_idx", i))
		workers[i] = w
		dispatchTargets[i] = w
		w.Start(ctx)
	}

	mgr := manager.New(st, dispatchTargets, cfg.Scheduler.TickInterval, cfg.Scheduler.SyncInterval, log.Logger.WithField("component", "manager"))
	mgr.Start(ctx)

	apiServer := api.New(st, log.Logger.WithField("component", "api"), log)
	httpServer := &http.Server{Addr: cfg.API.ListenAddr, Handler: apiServer.Handler()}

	go func() {
		log.WithField("addr", cfg.API.ListenAddr).Info("control plane listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("control plane stopped unexpectedly")
		}
	}()

	if len(cfg.Ingest.Sources) > 0 {
		var sources []ingest.Source
		for _, s := range cfg.Ingest.Sources {
			sources = append(sources, ingest.Source{URL: s.URL, Kind: s.Kind, Selector: s.Selector})
		}
		ingester := ingest.New(sources, apiBaseURL(cfg.API.ListenAddr), cfg.Ingest.DefaultCheck, log.Logger.WithField("component", "ingest"))
		go runIngestLoop(ctx, ingester, cfg.Ingest.Interval, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Scheduler.TickInterval*10)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	mgr.Stop()
	mgr.WaitStop()
	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		w.WaitStop()
	}
	cancel()

	log.Info("shutdown complete")
	return nil
}

// bootstrap loads the configured check-definition directory and proxy list
// file into the store, associating every ingested proxy with every loaded
// check. Individual file failures are logged, not fatal.
func bootstrap(cfg *config.Config, st store.Store, log *logger.Logger) error {
	ctx := context.Background()

	defs, defErrs := config.LoadCheckDefinitions(cfg.Bootstrap.CheckDefinitionsDir)
	for _, e := range defErrs {
		log.WithField("source", "check_definitions").Warn(e)
	}

	var checkIDs []uint
	for _, def := range defs {
		created, err := st.AddCheck(ctx, def)
		if err != nil {
			log.WithError(err).WithField("url", def.URL).Warn("failed to register check definition")
			continue
		}
		checkIDs = append(checkIDs, created.ID)
	}
	log.WithField("count", len(checkIDs)).Info("registered check definitions")

	proxies, proxyErrs := config.LoadProxyList(cfg.Bootstrap.ProxyListFile)
	for _, e := range proxyErrs {
		log.WithField("source", "proxy_list").Warn(e)
	}

	var proxyCount int
	for _, p := range proxies {
		created, err := st.AddProxy(ctx, p)
		if err != nil {
			log.WithError(err).WithField("proxy", p.Key()).Warn("failed to register proxy")
			continue
		}
		for _, cp := range created {
			proxyCount++
			for _, checkID := range checkIDs {
				if err := st.Associate(ctx, cp.ID, checkID); err != nil {
					log.WithError(err).Warn("failed to associate bootstrapped proxy with check")
				}
			}
		}
	}
	log.WithField("count", proxyCount).Info("registered proxies")
	return nil
}

// apiBaseURL turns a listen address like ":8080" or "0.0.0.0:8080" into a
// loopback URL the in-process Ingester can reach.
func apiBaseURL(listenAddr string) string {
	addr := listenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	} else if strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "127.0.0.1" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	return "http://" + addr
}

// runIngestLoop runs one ingest pass immediately, then repeats every
// interval until ctx is cancelled.
func runIngestLoop(ctx context.Context, ingester *ingest.Ingester, interval time.Duration, log *logger.Logger) {
	runOnce := func() {
		count, err := ingester.Run(ctx)
		if err != nil {
			log.WithError(err).Warn("ingest pass failed")
			return
		}
		log.WithField("registered", count).Info("ingest pass complete")
	}

	runOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
