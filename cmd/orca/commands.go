package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/orca/internal/config"
	"github.com/kalambet/orca/internal/memory"
	"github.com/kalambet/orca/internal/orchestrator"
	"github.com/kalambet/orca/internal/worker"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <request>",
	Short: "Process a request in-process and print the response envelope",
	Long: `Process a request in-process and print the response envelope.

Examples:
  orca ask "organize my downloads folder"
  orca ask --offline "what's on my schedule this week"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline")
		input := strings.Join(args, " ")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level, stderr)

		a, err := buildApp(cmd.Context(), cfg, appOptions{offline: offline})
		if err != nil {
			return err
		}
		defer a.Close()

		resp := a.orch.ProcessRequest(cmd.Context(), input)
		if err := printJSON(resp); err != nil {
			return err
		}
		if resp.Status != orchestrator.StatusSuccess {
			return fmt.Errorf("request failed: %s", resp.Error)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("offline", false, "classify by keywords only, without a model backend")
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect the running server's memory",
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show turn, knowledge and working-task counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		stats, err := client.stats(cmd.Context())
		if err != nil {
			return err
		}
		printStatus("Turns", "%d", stats.TurnCount)
		printStatus("Knowledge", "%d", stats.KnowledgeCount)
		printStatus("Active tasks", "%d", stats.WorkingTaskCount)
		printStatus("Categories", "%s", strings.Join(stats.Categories, ", "))
		return nil
	},
}

var memoryExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every memory tier as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/export")
		if err != nil {
			return err
		}
		var export memory.Export
		if err := decodeJSON(resp, &export); err != nil {
			return err
		}

		if output == "" {
			return printJSON(export)
		}
		data, err := json.MarshalIndent(export, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, data, 0o600); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		printSuccess("Memory exported to %s", output)
		return nil
	},
}

func init() {
	memoryExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	memoryCmd.AddCommand(memoryStatsCmd)
	memoryCmd.AddCommand(memoryExportCmd)
}

// --- knowledge ---

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Read and edit long-term knowledge",
}

var knowledgeGetCmd = &cobra.Command{
	Use:   "get <category> <key>",
	Short: "Print one knowledge value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), knowledgePath(args[0], args[1]))
		if err != nil {
			return err
		}
		var entry struct {
			Value any `json:"value"`
		}
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}
		return printJSON(entry.Value)
	},
}

var knowledgeSetCmd = &cobra.Command{
	Use:   "set <category> <key> <value>",
	Short: "Store a value; JSON is stored structured, anything else as a string",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, key := args[0], args[1]
		var value any
		if json.Unmarshal([]byte(args[2]), &value) != nil {
			value = args[2]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), knowledgePath(category, key), map[string]any{"value": value})
		if err != nil {
			return err
		}
		var result struct {
			Persisted bool   `json:"persisted"`
			Error     string `json:"error"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if !result.Persisted {
			printWarning("Stored %s/%s for this session only: %s", category, key, result.Error)
			return nil
		}
		printSuccess("Stored %s/%s", category, key)
		return nil
	},
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search [keyword]",
	Short: "Search keys and values by keyword",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		var keyword string
		if len(args) == 1 {
			keyword = args[0]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), searchPath(keyword, category))
		if err != nil {
			return err
		}
		var entries []memory.Entry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Fprintln(stdout, "No entries found.")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(stdout, "%s  %s\n", colorize(colorCyan, e.Category+"/"+e.Key), truncate(renderValue(e.Value), 80))
		}
		return nil
	},
}

var knowledgeDeleteCmd = &cobra.Command{
	Use:   "delete <category> <key>",
	Short: "Delete one knowledge entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), knowledgePath(args[0], args[1]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted %s/%s", args[0], args[1])
		return nil
	},
}

func init() {
	knowledgeSearchCmd.Flags().String("category", "", "restrict to one category")
	knowledgeCmd.AddCommand(knowledgeGetCmd)
	knowledgeCmd.AddCommand(knowledgeSetCmd)
	knowledgeCmd.AddCommand(knowledgeSearchCmd)
	knowledgeCmd.AddCommand(knowledgeDeleteCmd)
}

func renderValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// --- workers ---

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List built-in workers and their operation kinds",
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, err := buildWorkerList(cmd.Context())
		if err != nil {
			return err
		}
		printWorkers(workers)
		return nil
	},
}

func buildWorkerList(ctx context.Context) ([]worker.Descriptor, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Storage.DataDir = ":memory:"
	a, err := buildApp(ctx, cfg, appOptions{offline: true})
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.registry.List(), nil
}

func printWorkers(workers []worker.Descriptor) {
	for _, d := range workers {
		kinds := make([]string, len(d.Kinds))
		for i, k := range d.Kinds {
			kinds[i] = string(k)
		}
		fmt.Fprintf(stdout, "%s  %s\n", colorize(colorBold, fmt.Sprintf("%-10s", d.ID)), strings.Join(kinds, ", "))
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
