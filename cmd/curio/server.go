package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/curio/internal/api"
	"github.com/kalambet/curio/internal/config"
	"github.com/kalambet/curio/internal/curator"
	"github.com/kalambet/curio/internal/distill"
	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/fetch"
	"github.com/kalambet/curio/internal/flow"
	"github.com/kalambet/curio/internal/jobs"
	"github.com/kalambet/curio/internal/retrieval"
	"github.com/kalambet/curio/internal/search"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/webscout"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the curio server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running curio server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show curio system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "curio.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func scoutDefaults(cfg config.Config) webscout.Options {
	return webscout.Options{
		MinQualityResults:  cfg.WebScout.MinQualityResults,
		MinRelevanceScore:  cfg.WebScout.MinRelevanceScore,
		MaxIterations:      cfg.WebScout.MaxIterations,
		MaxQueries:         cfg.WebScout.MaxQueries,
		MaxResultsPerQuery: cfg.WebScout.MaxResultsPerQuery,
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "curio version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("curio is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("curio is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(engine.DetectConfig{OllamaBaseURL: cfg.Ollama.BaseURL})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr, cfg.Ollama.FastModel, cfg.Ollama.DeepModel, cfg.Ollama.EmbedModel); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	catalog, err := flow.LoadCatalog(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("loading topic catalog: %w", err)
	}
	slog.Info("topic catalog loaded", "topics", len(catalog.Topics))

	if cfg.Search.APIKey == "" {
		slog.Warn("web search is not configured; webScout will find nothing", "hint", config.SearchKeyHint())
	}

	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	index := retrieval.NewIndex(embedder, retrieval.NewSQLiteStore(store.DB()), store)
	fetcher := fetch.New()

	cur := curator.New(eng, store, index, curator.Config{
		Model:             cfg.Ollama.FastModel,
		CategorizeEnabled: cfg.Curator.CategorizeEnabled,
		MaxRelated:        cfg.Curator.MaxRelated,
	})
	dist := distill.New(eng, cfg.Ollama.DeepModel, store, store)
	scout := webscout.New(eng,
		search.NewClientWithBaseURL(cfg.Search.APIKey, cfg.Search.BaseURL),
		fetcher,
		store,
		webscout.Models{Agent: cfg.Ollama.DeepModel, Eval: cfg.Ollama.FastModel},
	).WithDefaults(scoutDefaults(cfg))
	orchestrator := flow.New(store, cur, dist, scout, catalog)

	worker := jobs.NewWorker(store, cfg.PollInterval(), cfg.Flows.MaxConcurrent)
	worker.Handle(jobs.TypeIngestEnrich, jobs.EnrichHandler(store, index))
	worker.Handle(jobs.TypeFlowRun, orchestrator.HandleJob)

	deps := api.Deps{
		Store:   store,
		Flows:   orchestrator,
		Fetcher: fetcher,
		Index:   index,
		Token:   apiToken,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("curio listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if cfg.Server.MCPStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		go func() {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("curio is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop curio (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to curio (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	probe := &http.Client{Timeout: 2 * time.Second}

	running := false
	if resp, err := probe.Get(serverURL + "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if resp, err := probe.Get(cfg.Ollama.BaseURL + "/api/version"); err != nil {
		printStatus("Ollama", "not running")
	} else {
		resp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Fast model", "%s", cfg.Ollama.FastModel)
	printStatus("Deep model", "%s", cfg.Ollama.DeepModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	if cfg.Search.APIKey == "" {
		printStatus("Web search", "not configured (%s)", config.SearchKeyHint())
	} else {
		printStatus("Web search", "%s", cfg.Search.BaseURL)
	}

	if running {
		client, err := newAPIClient()
		if err == nil {
			client.httpClient = probe
			if counts, err := fetchInboxCounts(ctx, client, ""); err == nil {
				printStatus("Inbox", "%d proposed, %d approved today",
					counts[storage.ArtifactProposed], counts[storage.ArtifactApproved])
			}
			if runs, err := fetchRuns(ctx, client, 1); err == nil && len(runs) > 0 {
				printStatus("Last run", "%s %s (%s)", runs[0].Kind, runs[0].Status, runs[0].StartedAt.Local().Format(time.DateTime))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func fetchInboxCounts(ctx context.Context, c *apiClient, day string) (map[storage.ArtifactStatus]int, error) {
	path := "/artifacts/counts"
	if day != "" {
		path += "?day=" + day
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var counts map[storage.ArtifactStatus]int
	if err := decodeJSON(resp, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func fetchRuns(ctx context.Context, c *apiClient, limit int) ([]storage.Run, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/runs?limit=%d", limit))
	if err != nil {
		return nil, err
	}
	var runs []storage.Run
	if err := decodeJSON(resp, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}
