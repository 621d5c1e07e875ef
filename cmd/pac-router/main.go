package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goodtune/pac-router/internal/config"
	"github.com/goodtune/pac-router/internal/logging"
	"github.com/goodtune/pac-router/internal/metrics"
	"github.com/goodtune/pac-router/internal/pac"
	"github.com/goodtune/pac-router/internal/proxy"
	"github.com/goodtune/pac-router/internal/rules"
)

// install swaps t into the router and records the reload.
func install(router *rules.Router, t *rules.Table, source, path string, logger *slog.Logger) {
	router.Install(t)
	metrics.RulesLoaded.Set(float64(t.Len()))
	metrics.ReloadTotal.WithLabelValues(source, "success").Inc()
	logging.LogReload(logger, logging.ReloadEntry{
		Source:  source,
		Path:    path,
		Rules:   t.Len(),
		Default: t.Default().String(),
	})
}

// reject records a reload that left the live table in place.
func reject(source, path string, err error, logger *slog.Logger) {
	metrics.ReloadTotal.WithLabelValues(source, "failure").Inc()
	logging.LogReload(logger, logging.ReloadEntry{Source: source, Path: path, Err: err})
}

// watchRules installs the rule file into router whenever it changes.
func watchRules(ctx context.Context, router *rules.Router, path string, logger *slog.Logger) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(path,
		func(t *rules.Table) { install(router, t, "watch", path, logger) },
		config.WithLogger(logger),
		config.WithErrorCallback(func(err error) { reject("watch", path, err, logger) }),
	)
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		watcher.Stop()
		return nil, err
	}
	return watcher, nil
}

// pacHandler serves the live table as a PAC file.
func pacHandler(router *rules.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := router.Table()
		if t == nil {
			http.Error(w, "no rule table loaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/x-ns-proxy-autoconfig")
		io.WriteString(w, pac.Render(t))
	})
}

// check prints the decision for rawURL and whether the rendered PAC agrees.
func check(w io.Writer, t *rules.Table, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing %q: %w", rawURL, err)
	}
	res := t.Lookup(rawURL, u.Hostname())
	rule := "default"
	if res.Matched() {
		e := t.Entries()[res.Rule]
		rule = fmt.Sprintf("#%d %s (%s)", res.Rule, e.Pattern, e.Target)
	}
	fmt.Fprintf(w, "url:   %s\nroute: %s\nrule:  %s\n", rawURL, res.Route, rule)

	if err := pac.Verify(t, []string{rawURL}); err != nil {
		fmt.Fprintf(w, "pac:   MISMATCH\n")
		return err
	}
	fmt.Fprintf(w, "pac:   agrees\n")
	return nil
}

// compare evaluates urls with t and the PAC script at source and prints
// every disagreement. With no urls, one sample per rule is used.
func compare(w io.Writer, t *rules.Table, source string, urls []string) error {
	legacy, err := pac.New(source)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		urls = pac.SampleURLs(t)
	}
	mismatches, err := pac.Compare(t, legacy, urls)
	if err != nil {
		return err
	}
	for _, m := range mismatches {
		fmt.Fprintln(w, m)
	}
	fmt.Fprintf(w, "%d of %d URLs differ from %s\n", len(mismatches), len(urls), legacy.Source())
	if len(mismatches) > 0 {
		return fmt.Errorf("rules differ from %s", legacy.Source())
	}
	return nil
}

func main() {
	listenAddr := flag.String("listen", ":3128", "proxy listen address")
	metricsAddr := flag.String("metrics", ":9128", "metrics and /proxy.pac endpoint address")
	watch := flag.Bool("watch", true, "reload the rule file when it changes")
	checkURL := flag.String("check", "", "print the route for this URL and exit")
	comparePAC := flag.String("compare", "", "compare the rules with this PAC file or URL on the URLs given as arguments and exit")
	flag.Parse()

	// Load rule file
	rulesFile := os.Getenv("RULES_FILE")
	if rulesFile == "" {
		fmt.Fprintln(os.Stderr, "RULES_FILE environment variable is required")
		os.Exit(1)
	}

	table, err := config.LoadTable(rulesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load rules: %v\n", err)
		os.Exit(1)
	}

	if *checkURL != "" {
		if err := check(os.Stdout, table, *checkURL); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if *comparePAC != "" {
		if err := compare(os.Stdout, table, *comparePAC, flag.Args()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Setup logger
	logger, err := logging.NewSyslogLogger()
	if err != nil {
		// Fall back to stderr
		logger = logging.NewStderrLogger(slog.LevelInfo)
		logger.Warn("syslog unavailable, logging to stderr", "error", err)
	}

	// Register metrics
	metrics.Register()

	router := rules.NewRouter(nil)
	install(router, table, "startup", rulesFile, logger)

	// Proxy server
	handler := proxy.NewHandler(router, logger)
	proxyServer := &http.Server{
		Addr:    *listenAddr,
		Handler: handler,
	}

	// Metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.Handle("/proxy.pac", pacHandler(router))
	metricsServer := &http.Server{
		Addr:    *metricsAddr,
		Handler: metricsMux,
	}

	// Signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *watch {
		watcher, err := watchRules(ctx, router, rulesFile, logger)
		if err != nil {
			logger.Error("rule watcher unavailable, relying on SIGHUP", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				logger.Info("SIGHUP received, reloading rules")
				t, err := config.LoadTable(rulesFile)
				if err != nil {
					reject("sighup", rulesFile, err, logger)
					continue
				}
				install(router, t, "sighup", rulesFile, logger)
			case syscall.SIGTERM, syscall.SIGINT:
				logger.Info("shutdown signal received", "signal", sig.String())
				cancel()
			}
		}
	}()

	// Start metrics server
	go func() {
		logger.Info("metrics server starting", "addr", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Start proxy server
	go func() {
		logger.Info("proxy server starting", "addr", *listenAddr)
		if err := proxyServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("proxy server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("shutting down")
	proxyServer.Shutdown(context.Background())
	metricsServer.Shutdown(context.Background())
	logger.Info("shutdown complete")
}
