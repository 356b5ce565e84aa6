// Command kozlony crawls the official gazette, stores new issues and
// notifies subscribers whose filters match them.
//
// Usage:
//
//	kozlony -config kozlony.yaml                    # one crawl + evaluate run
//	kozlony -config kozlony.yaml -staging           # run without notifying or marking
//	kozlony -config kozlony.yaml -search "query"    # full-text search and exit
//	kozlony -config kozlony.yaml -new               # table of unconsumed issues
//	kozlony -config kozlony.yaml -stats             # store stats + last run metrics
//	kozlony -config kozlony.yaml -matches <hash> -keyword "adó"
//	kozlony -config kozlony.yaml -serve :8080       # read-only HTTP API
//	kozlony -config kozlony.yaml -mcp               # MCP tools over stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kozlony/gazette"
)

type options struct {
	configPath string
	dbPath     string
	staging    bool
	search     string
	limit      int
	showNew    bool
	width      int
	showStats  bool
	matches    string
	keyword    string
	serveAddr  string
	mcp        bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "kozlony.yaml", "path to kozlony.yaml config file")
	flag.StringVar(&o.dbPath, "db", "", "override db_path from the config")
	flag.BoolVar(&o.staging, "staging", false, "crawl and evaluate without notifying or marking documents")
	flag.StringVar(&o.search, "search", "", "full-text query (exit after results)")
	flag.IntVar(&o.limit, "limit", 20, "max search results")
	flag.BoolVar(&o.showNew, "new", false, "print unconsumed documents and exit")
	flag.IntVar(&o.width, "width", 100, "table width for -new")
	flag.BoolVar(&o.showStats, "stats", false, "show store stats and last run metrics, then exit")
	flag.StringVar(&o.matches, "matches", "", "document hash to search with -keyword")
	flag.StringVar(&o.keyword, "keyword", "", "keyword for -matches")
	flag.StringVar(&o.serveAddr, "serve", "", "serve the read API on this address")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools over stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, level, o); err != nil {
		fmt.Fprintf(os.Stderr, "kozlony: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, level slog.Level, o options) error {
	cfg, err := gazette.LoadConfigFile(o.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.staging {
		cfg.Staging = true
	}

	var logOut io.Writer = os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))

	svc, err := gazette.New(cfg, gazette.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	switch {
	case o.search != "":
		results, err := svc.Search(ctx, o.search, o.limit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		return printJSON(results)

	case o.showNew:
		return svc.WriteNewTable(ctx, os.Stdout, o.width)

	case o.showStats:
		stats, err := svc.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		return printJSON(stats)

	case o.matches != "":
		m, err := svc.FindMatches(ctx, o.matches, o.keyword)
		if err != nil {
			return fmt.Errorf("matches: %w", err)
		}
		return printJSON(m)

	case o.serveAddr != "":
		return serveHTTP(ctx, logger, svc, o.serveAddr)

	case o.mcp:
		srv := mcp.NewServer(&mcp.Implementation{Name: "kozlony", Version: "1.0.0"}, nil)
		svc.RegisterMCP(srv)
		logger.Info("kozlony: mcp on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	rep, err := svc.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return printJSON(rep)
}

func serveHTTP(ctx context.Context, logger *slog.Logger, svc *gazette.Service, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("kozlony: listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("kozlony: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
