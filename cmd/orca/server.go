package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/orca/internal/api"
	"github.com/kalambet/orca/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the MCP stdio server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		noMCP, _ := cmd.Flags().GetBool("no-mcp")
		offline, _ := cmd.Flags().GetBool("offline")
		return runServer(cmd.Context(), noMCP, offline)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orca server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("no-mcp", false, "do not serve MCP on stdin/stdout")
	serveCmd.Flags().Bool("offline", false, "classify by keywords only, without a model backend")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "orca.pid")
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

func runServer(ctx context.Context, noMCP, offline bool) error {
	fmt.Fprintln(stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Logs go to stderr; stdout carries the MCP stream.
	setupLogging(cfg.Log.Level, os.Stderr)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	a, err := buildApp(ctx, cfg, appOptions{offline: offline, warmup: true, w: os.Stderr})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.API.Token == "" {
		slog.Warn("ORCA_API_TOKEN not set, /v1 routes are unauthenticated")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Processor: a.orch,
			Memory:    a.memory,
			Token:     cfg.API.Token,
		}),
	}

	if !noMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Processor: a.orch,
			Memory:    a.memory,
			Version:   version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("orca listening", "addr", addr, "workers", a.registry.IDs())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)

	running := false
	if resp, err := client.Get(serverURL + "/health"); err != nil {
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

	switch cfg.LLM.Backend {
	case "openai":
		printStatus("LLM", "openai at %s (%s)", cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	default:
		if resp, err := client.Get(cfg.Ollama.BaseURL + "/api/version"); err != nil {
			printStatus("LLM", "ollama not running at %s", cfg.Ollama.BaseURL)
		} else {
			resp.Body.Close()
			printStatus("LLM", "ollama at %s (%s)", cfg.Ollama.BaseURL, cfg.Ollama.Model)
		}
	}

	if running {
		c := &apiClient{baseURL: serverURL, token: cfg.API.Token, httpClient: client}
		if stats, err := c.stats(context.Background()); err == nil {
			printStatus("Turns", "%d", stats.TurnCount)
			printStatus("Knowledge", "%d entries in %d categories", stats.KnowledgeCount, len(stats.Categories))
			printStatus("Active tasks", "%d", stats.WorkingTaskCount)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
