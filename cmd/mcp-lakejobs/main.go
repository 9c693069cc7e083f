// Package main provides the entry point for the mcp-lakejobs server.
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

	mcpserver "github.com/txn2/mcp-lakejobs/internal/server"
	"github.com/txn2/mcp-lakejobs/pkg/job"
	"github.com/txn2/mcp-lakejobs/pkg/platform"
)

const readHeaderTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	transport   string
	address     string
	jobPath     string
	showVersion bool
}

func parseFlags(args []string) (serverOptions, error) {
	opts := serverOptions{}
	fs := flag.NewFlagSet("mcp-lakejobs", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.transport, "transport", "", "Transport type: stdio, http (overrides config)")
	fs.StringVar(&opts.address, "address", "", "Listen address for the http transport (overrides config)")
	fs.StringVar(&opts.jobPath, "job", "", "Run the job in this JSON or YAML file and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("parsing flags: %w", err)
	}
	return opts, nil
}

func run() error {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Printf("mcp-lakejobs version %s\n", mcpserver.Version)
		return nil
	}
	if opts.configPath == "" {
		return errors.New("-config is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := platform.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cfg, opts)
	if err := setupLogging(cfg.Server, os.Stderr); err != nil {
		return err
	}

	_, p, err := mcpserver.New(cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Warn("error closing platform", "error", err)
		}
	}()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}

	if opts.jobPath != "" {
		return runJobFile(ctx, p, opts.jobPath, os.Stdout)
	}
	return startServer(ctx, p)
}

// applyFlagOverrides lets command line flags win over the config file.
func applyFlagOverrides(cfg *platform.Config, opts serverOptions) {
	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
}

// setupLogging installs the default slog logger. Logs go to stderr so the
// stdio transport keeps stdout for protocol messages.
func setupLogging(cfg platform.ServerConfig, w io.Writer) error {
	level, err := platform.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// jobRunner is satisfied by *platform.Platform.
type jobRunner interface {
	RunJob(ctx context.Context, req job.Request) (*job.Response, error)
}

// runJobFile runs a single job and prints the response as JSON.
func runJobFile(ctx context.Context, runner jobRunner, path string, out io.Writer) error {
	req, err := job.LoadRequestFile(path)
	if err != nil {
		return fmt.Errorf("loading job: %w", err)
	}

	resp, err := runner.RunJob(ctx, *req)
	if err != nil {
		return fmt.Errorf("running job: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}

func startServer(ctx context.Context, p *platform.Platform) error {
	cfg := p.Config().Server
	switch cfg.Transport {
	case platform.TransportStdio:
		slog.Info("serving MCP over stdio", "name", cfg.Name, "version", cfg.Version)
		if err := p.MCPServer().Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio transport: %w", err)
		}
		return nil
	case platform.TransportHTTP:
		return serveHTTP(ctx, cfg, corsMiddleware(p.HTTPHandler()))
	default:
		return fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}

// serveHTTP serves handler until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func serveHTTP(ctx context.Context, cfg platform.ServerConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving HTTP", "address", cfg.Address, "name", cfg.Name, "version", cfg.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// corsMiddleware allows browser-based MCP clients to reach the server.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Mcp-Session-Id, Mcp-Protocol-Version, Last-Event-ID")
		h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
