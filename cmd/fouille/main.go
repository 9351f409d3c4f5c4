// CLAUDE:SUMMARY Entry point for fouille: urfave/cli app with serve (chi HTTP API + /mcp), search, train, ingest and stdio mcp commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/fouille/fouille"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("fouille", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "fouille",
		Usage:   "Personal search: aggregate engines, crawl politely, rank by your preferences",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"FOUILLE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Directory for memory, feedback, preferences and model state",
				EnvVars: []string{"FOUILLE_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API (with MCP over streamable HTTP at /mcp)",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   "8085",
						EnvVars: []string{"PORT"},
					},
					&cli.StringFlag{
						Name:    "ingest-root",
						Usage:   "Directory indexed into memory at startup",
						EnvVars: []string{"FOUILLE_INGEST_ROOT"},
					},
					&cli.BoolFlag{
						Name:    "watch",
						Usage:   "Re-index ingest-root on file changes",
						EnvVars: []string{"FOUILLE_WATCH"},
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Run one search and print the results as JSON",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "max-results",
						Aliases: []string{"n"},
						Usage:   "Maximum results (0 uses the configured default)",
					},
					&cli.BoolFlag{
						Name:  "follow",
						Usage: "Fetch each result page for title, snippet and extract",
					},
					&cli.BoolFlag{
						Name:  "no-personalize",
						Usage: "Keep engine order instead of reranking",
					},
				},
			},
			{
				Name:   "train",
				Usage:  "Train the preference model from recorded feedback",
				Action: trainCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Read at most N feedback records (0 reads all)",
					},
					&cli.IntFlag{
						Name:  "epochs",
						Usage: "Training epochs (0 uses the configured default)",
					},
				},
			},
			{
				Name:   "ingest",
				Usage:  "Index a directory into memory",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "root",
						Usage:   "Directory to index (overrides ingest.root)",
						EnvVars: []string{"FOUILLE_INGEST_ROOT"},
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Keep running and re-index on file changes",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the fouille tools over MCP stdio",
				Action: mcpCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	var lvl slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// stdout carries the MCP protocol in stdio mode.
	var out io.Writer = os.Stdout
	if c.Args().First() == "mcp" {
		out = os.Stderr
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// loadConfig reads --config when given, then applies flag overrides.
func loadConfig(c *cli.Context) (*fouille.Config, error) {
	cfg := fouille.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = fouille.LoadConfigFile(path); err != nil {
			return nil, err
		}
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.SetDataDir(dir)
	}
	return cfg, nil
}

func openService(c *cli.Context, mutate func(*fouille.Config)) (*fouille.Service, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	return fouille.New(cfg, slog.Default())
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func newMCPServer(svc *fouille.Service) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "fouille",
		Version: version,
	}, nil)
	svc.RegisterMCP(srv)
	return srv
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCommand(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	svc, err := openService(c, func(cfg *fouille.Config) {
		if root := c.String("ingest-root"); root != "" {
			cfg.Ingest.Root = root
		}
		if c.IsSet("watch") {
			cfg.Ingest.Watch = c.Bool("watch")
		}
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	cfg := svc.Config()
	if cfg.Ingest.Root != "" {
		go startupIngest(ctx, svc, cfg.Ingest.Watch)
	}

	port := c.String("port")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(svc, newMCPServer(svc), slog.Default()),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", port, "engines", svc.Engines(), "data_dir", cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

// startupIngest indexes the ingest root once, then optionally watches it.
func startupIngest(ctx context.Context, svc *fouille.Service, watch bool) {
	rep, err := svc.IngestDir(ctx)
	if err != nil {
		slog.Warn("ingest: startup run failed", "error", err)
	} else {
		slog.Info("ingest: startup run", "added", len(rep.Added), "changed", len(rep.Changed), "removed", len(rep.Removed))
	}
	if !watch {
		return
	}
	if err := svc.WatchDir(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("ingest: watch stopped", "error", err)
	}
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("query is required")
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	svc, err := openService(c, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	personalize := !c.Bool("no-personalize")
	resp, err := svc.Search(ctx, fouille.SearchRequest{
		Query:       query,
		MaxResults:  c.Int("max-results"),
		Follow:      c.Bool("follow"),
		Personalize: &personalize,
	})
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, resp)
}

func trainCommand(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	svc, err := openService(c, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	res := svc.TrainFromFeedback(ctx, c.Int("limit"), c.Int("epochs"))
	if err := printJSON(c.App.Writer, res); err != nil {
		return err
	}
	if !res.OK {
		return cli.Exit("training did not run: "+res.Detail, 2)
	}
	return nil
}

func ingestCommand(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	svc, err := openService(c, func(cfg *fouille.Config) {
		if root := c.String("root"); root != "" {
			cfg.Ingest.Root = root
		}
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	rep, err := svc.IngestDir(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(c.App.Writer, rep); err != nil {
		return err
	}
	if !c.Bool("watch") {
		return nil
	}
	slog.Info("ingest: watching", "root", svc.Config().Ingest.Root)
	if err := svc.WatchDir(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func mcpCommand(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	svc, err := openService(c, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	slog.Info("mcp: serving on stdio", "engines", svc.Engines())
	if err := newMCPServer(svc).Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
