package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/curio/internal/api"
	"github.com/kalambet/curio/internal/config"
	"github.com/kalambet/curio/internal/flow"
	"github.com/kalambet/curio/internal/storage"
)

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// --- flow ---

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Run agentic flows",
}

var flowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available flows",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range api.FlowNames {
			fmt.Println(name)
		}
	},
}

type flowFlags struct {
	input     string
	documents []string
	tag       string
	limit     int
	day       string
	goal      string
	mode      string
	focusTags []string
	topics    []string
	importDoc bool
}

// buildFlowInput merges the raw --input JSON with the shortcut flags that
// apply to the named flow.
func buildFlowInput(name string, f flowFlags) (map[string]any, error) {
	in := map[string]any{}
	if f.input != "" {
		if err := json.Unmarshal([]byte(f.input), &in); err != nil {
			return nil, fmt.Errorf("--input is not a JSON object: %w", err)
		}
	}
	set := func(key string, v any, ok bool) {
		if ok {
			in[key] = v
		}
	}

	switch name {
	case flow.FlowCurate:
		if len(f.documents) > 1 {
			return nil, fmt.Errorf("curate takes a single --doc")
		}
		set("documentId", firstOrEmpty(f.documents), len(f.documents) == 1)
	case flow.FlowDistill, flow.FlowDistillCurate:
		set("documentIds", f.documents, len(f.documents) > 0)
		set("tag", f.tag, f.tag != "")
		set("limit", f.limit, f.limit > 0)
		set("day", f.day, f.day != "")
	case flow.FlowWebScout:
		set("goal", f.goal, f.goal != "")
		set("mode", f.mode, f.mode != "")
		set("focusTags", f.focusTags, len(f.focusTags) > 0)
		set("day", f.day, f.day != "")
		set("importToLibrary", true, f.importDoc)
	case flow.FlowTopicReport:
		set("topics", f.topics, len(f.topics) > 0)
		set("day", f.day, f.day != "")
	default:
		return nil, fmt.Errorf("unknown flow %q (available: %s)", name, strings.Join(api.FlowNames, ", "))
	}
	return in, nil
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

type flowReply struct {
	RunID  string          `json:"runId"`
	Result json.RawMessage `json:"result,omitempty"`
}

func runFlowRequest(ctx context.Context, c *apiClient, name string, input map[string]any, async bool) (flowReply, error) {
	path := "/flows/" + url.PathEscape(name)
	if async {
		path += "?async=true"
	}
	resp, err := c.post(ctx, path, input)
	if err != nil {
		return flowReply{}, err
	}
	var reply flowReply
	if err := decodeJSON(resp, &reply); err != nil {
		return flowReply{}, err
	}
	return reply, nil
}

var flowRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a flow and print its result",
	Long: `Run a flow on the server.

Examples:
  curio flow run curate --doc 3f2a...
  curio flow run distill --tag golang --limit 5
  curio flow run webScout --goal "eBPF observability tooling" --import
  curio flow run webScout --mode vault --focus golang,databases
  curio flow run topicReport --topic "Go runtime" --async
  curio flow run distillCurate --input '{"documentIds":["a","b"]}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var f flowFlags
		f.input, _ = cmd.Flags().GetString("input")
		f.documents, _ = cmd.Flags().GetStringSlice("doc")
		f.tag, _ = cmd.Flags().GetString("tag")
		f.limit, _ = cmd.Flags().GetInt("limit")
		f.day, _ = cmd.Flags().GetString("day")
		f.goal, _ = cmd.Flags().GetString("goal")
		f.mode, _ = cmd.Flags().GetString("mode")
		f.focusTags, _ = cmd.Flags().GetStringSlice("focus")
		f.topics, _ = cmd.Flags().GetStringSlice("topic")
		f.importDoc, _ = cmd.Flags().GetBool("import")
		async, _ := cmd.Flags().GetBool("async")

		input, err := buildFlowInput(args[0], f)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if !async {
			printStep("Running %s...", args[0])
		}
		reply, err := runFlowRequest(cmd.Context(), client, args[0], input, async)
		if err != nil {
			return err
		}

		if async {
			printSuccess("Queued %s as run %s", args[0], reply.RunID)
			return nil
		}
		printSuccess("Run %s finished", reply.RunID)
		if len(reply.Result) > 0 {
			var v any
			if err := json.Unmarshal(reply.Result, &v); err != nil {
				return err
			}
			return printJSON(os.Stdout, v)
		}
		return nil
	},
}

func init() {
	flowRunCmd.Flags().String("input", "", "flow input as a JSON object")
	flowRunCmd.Flags().StringSlice("doc", nil, "document ID (repeatable)")
	flowRunCmd.Flags().String("tag", "", "select documents by tag")
	flowRunCmd.Flags().Int("limit", 0, "maximum documents to select")
	flowRunCmd.Flags().String("day", "", "artifact day (YYYY-MM-DD)")
	flowRunCmd.Flags().String("goal", "", "webScout research goal")
	flowRunCmd.Flags().String("mode", "", "webScout mode (goal or vault)")
	flowRunCmd.Flags().StringSlice("focus", nil, "webScout focus tags")
	flowRunCmd.Flags().StringSlice("topic", nil, "topicReport topic (repeatable)")
	flowRunCmd.Flags().Bool("import", false, "import fetched pages into the vault")
	flowRunCmd.Flags().Bool("async", false, "queue the run and return its ID")

	flowCmd.AddCommand(flowListCmd)
	flowCmd.AddCommand(flowRunCmd)
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect flow runs and their traces",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		runs, err := fetchRuns(cmd.Context(), client, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs yet.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %-12s %-8s %s\n",
				colorize(colorCyan, shortID(r.ID)),
				r.Kind,
				runStatusLabel(r.Status),
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		return nil
	},
}

func runStatusLabel(s storage.RunStatus) string {
	switch s {
	case storage.RunStatusOK:
		return colorize(colorGreen, string(s))
	case storage.RunStatusError:
		return colorize(colorRed, string(s))
	case storage.RunStatusPartial:
		return colorize(colorYellow, string(s))
	default:
		return string(s)
	}
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a run and its step trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/runs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var trace storage.RunTrace
		if err := decodeJSON(resp, &trace); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, trace)
		}

		fmt.Printf("%s %s %s\n", colorize(colorBold, trace.Run.ID), trace.Run.Kind, runStatusLabel(trace.Run.Status))
		for _, st := range trace.Steps {
			line := fmt.Sprintf("  %3d  %-5s %-28s %s", st.Seq, st.Type, st.Name, st.Status)
			if st.Error != "" {
				line += "  " + colorize(colorRed, truncate(st.Error, 80))
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	runsShowCmd.Flags().Bool("json", false, "print the raw trace as JSON")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}

// --- inbox ---

type artifactItem struct {
	storage.Artifact
	Payload json.RawMessage `json:"payload,omitempty"`
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Review proposed artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, _ := cmd.Flags().GetString("day")
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		if day != "" {
			q.Set("day", day)
		}
		if status != "" {
			q.Set("status", status)
		}
		path := "/artifacts"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var items []artifactItem
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Inbox is empty.")
			return nil
		}
		for _, a := range items {
			fmt.Printf("%s  %-9s %-14s %s\n", colorize(colorCyan, shortID(a.ID)), a.Agent, a.Kind, truncate(a.Title, 70))
		}
		return nil
	},
}

func reviewArtifact(ctx context.Context, c *apiClient, id string, approve bool) (bool, error) {
	action := "reject"
	if approve {
		action = "approve"
	}
	resp, err := c.post(ctx, "/artifacts/"+url.PathEscape(id)+"/"+action, nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Changed bool `json:"changed"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return false, err
	}
	return out.Changed, nil
}

func reviewCommand(use, done, short string, approve bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			for _, id := range args {
				changed, err := reviewArtifact(cmd.Context(), client, id, approve)
				if err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				if changed {
					printSuccess("%s %s", id, done)
				} else {
					printWarning("%s was not proposed; nothing changed", id)
				}
			}
			return nil
		},
	}
}

var inboxShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an artifact with its decoded payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/artifacts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var item any
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}
		return printJSON(os.Stdout, item)
	},
}

func init() {
	inboxCmd.Flags().String("day", "", "day to review (YYYY-MM-DD, default today)")
	inboxCmd.Flags().String("status", "", "proposed (default) or approved")
	inboxCmd.AddCommand(inboxShowCmd)
	inboxCmd.AddCommand(reviewCommand("approve", "approved", "Approve proposed artifacts", true))
	inboxCmd.AddCommand(reviewCommand("reject", "rejected", "Reject proposed artifacts", false))
}

// --- reports ---

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Read topic reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, _ := cmd.Flags().GetString("day")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/reports"
		if day != "" {
			path += "?day=" + url.QueryEscape(day)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var reports []storage.Report
		if err := decodeJSON(resp, &reports); err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("No reports yet.")
			return nil
		}
		for _, r := range reports {
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, shortID(r.ID)), r.Day, r.Title)
		}
		return nil
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a report as markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/reports/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var r storage.Report
		if err := decodeJSON(resp, &r); err != nil {
			return err
		}
		fmt.Println(r.Content)
		return nil
	},
}

func init() {
	reportsCmd.Flags().String("day", "", "only reports for this day (YYYY-MM-DD)")
	reportsCmd.AddCommand(reportsShowCmd)
}

// --- ingest / docs ---

func buildIngestRequest(text, rawURL, file, title, tags string) (api.IngestRequest, error) {
	req := api.IngestRequest{
		Title:  title,
		Source: "cli",
		Tags:   splitList(tags),
	}
	switch {
	case text != "":
		req.Content = text
	case rawURL != "":
		req.URL = rawURL
		req.Source = rawURL
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return api.IngestRequest{}, fmt.Errorf("reading file: %w", err)
		}
		req.Content = string(data)
		req.Source = file
		if req.Title == "" {
			req.Title = file
		}
	default:
		return api.IngestRequest{}, fmt.Errorf("one of --text, --url, or --file is required")
	}
	return req, nil
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add a document to the vault",
	Long: `Add a document to the vault.

Examples:
  curio ingest --text "Channels are typed conduits" --tags golang,concurrency
  curio ingest --url https://go.dev/blog/pipelines --tags golang
  curio ingest --file ./notes.md --title "My notes"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		rawURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		tags, _ := cmd.Flags().GetString("tags")

		req, err := buildIngestRequest(text, rawURL, file, title, tags)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/documents", req)
		if err != nil {
			return err
		}
		var result api.IngestResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if !result.Created {
			printWarning("Already stored as %s", result.ID)
			return nil
		}
		printSuccess("Stored document %s (%s)", result.ID, result.Status)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest")
	ingestCmd.Flags().String("title", "", "title for the document")
	ingestCmd.Flags().String("tags", "", "comma-separated tags")
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Browse the document vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if tag != "" {
			q.Set("tag", tag)
		}
		resp, err := client.get(cmd.Context(), "/documents?"+q.Encode())
		if err != nil {
			return err
		}
		var docs []storage.Document
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}
		for _, d := range docs {
			line := fmt.Sprintf("%s  %s", colorize(colorCyan, shortID(d.ID)), truncate(d.Title, 60))
			if len(d.Tags) > 0 {
				line += "  [" + strings.Join(d.Tags, ", ") + "]"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var docsRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a document and its embedding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	docsCmd.Flags().String("tag", "", "only documents with this tag")
	docsCmd.Flags().Int("limit", 20, "maximum number of documents")
	docsCmd.AddCommand(docsRemoveCmd)
}

// --- watchlist ---

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage the sources webScout keeps an eye on",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/watchlist")
		if err != nil {
			return err
		}
		var items []storage.SourceWatchItem
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Watchlist is empty.")
			return nil
		}
		for _, it := range items {
			state := "active"
			if !it.IsActive {
				state = "paused"
			}
			checked := "never"
			if it.LastCheckedAt != nil {
				checked = it.LastCheckedAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("%s  %-6s every %3dh  last %s  %s\n",
				colorize(colorCyan, shortID(it.ID)), state, it.CheckIntervalHours, checked, it.URL)
		}
		return nil
	},
}

var watchlistAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Watch a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		kind, _ := cmd.Flags().GetString("kind")
		hours, _ := cmd.Flags().GetInt("every")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/watchlist", map[string]any{
			"url":                  args[0],
			"label":                label,
			"kind":                 kind,
			"check_interval_hours": hours,
		})
		if err != nil {
			return err
		}
		var item storage.SourceWatchItem
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}
		printSuccess("Watching %s as %s", item.Domain, item.ID)
		return nil
	},
}

func watchlistToggleCommand(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			resp, err := client.patch(cmd.Context(), "/watchlist/"+url.PathEscape(args[0]), storage.WatchSourcePatch{IsActive: &active})
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, nil); err != nil {
				return err
			}
			printSuccess("%s %sd", args[0], use)
			return nil
		},
	}
}

var watchlistRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Stop watching a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/watchlist/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Removed %s", args[0])
		return nil
	},
}

func init() {
	watchlistAddCmd.Flags().String("label", "", "display label")
	watchlistAddCmd.Flags().String("kind", "", "source kind (default site)")
	watchlistAddCmd.Flags().Int("every", 24, "check interval in hours")
	watchlistCmd.AddCommand(watchlistAddCmd)
	watchlistCmd.AddCommand(watchlistToggleCommand("pause", "Pause a watched source", false))
	watchlistCmd.AddCommand(watchlistToggleCommand("resume", "Resume a watched source", true))
	watchlistCmd.AddCommand(watchlistRemoveCmd)
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
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
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
