package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/batchcrawl/internal/batchfile"
	"github.com/JakeFAU/batchcrawl/internal/client"
	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/export"
)

// connFlags locate the server the batch commands talk to.
type connFlags struct {
	server string
	apiKey string
}

// client builds an API client. Without --server it targets the local port
// from the config, and without --api-key it reuses auth.api_key.
func (f *connFlags) client(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	server := f.server
	if server == "" {
		server = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	key := f.apiKey
	if key == "" && cfg.Auth.Enabled {
		key = cfg.Auth.APIKey
	}
	return client.New(server, client.WithAPIKey(key))
}

// newBatchCmd groups the operator commands that drive a running server.
func newBatchCmd() *cobra.Command {
	conn := &connFlags{}
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Create, run and inspect batches on a batchcrawl server",
	}
	cmd.PersistentFlags().StringVar(&conn.server, "server", "", "server base URL (default http://localhost:<server.port>)")
	cmd.PersistentFlags().StringVar(&conn.apiKey, "api-key", "", "API key sent as X-API-Key (default auth.api_key)")

	cmd.AddCommand(
		newBatchCreateCmd(conn),
		newBatchListCmd(conn),
		newBatchShowCmd(conn),
		newBatchStartCmd(conn),
		newBatchPauseCmd(conn),
		newBatchRetryCmd(conn),
		newBatchRetryItemCmd(conn),
		newBatchDeleteCmd(conn),
		newBatchExportCmd(conn),
	)
	return cmd
}

type createFlags struct {
	from          string
	urlsFile      string
	name          string
	description   string
	urls          []string
	outputDir     string
	format        string
	workers       int
	timeout       float64
	browser       bool
	images        bool
	links         bool
	randomDelay   bool
	adaptiveDelay bool
	breaks        bool
}

// definition merges the batch file, the URL list file and the flags, in that order.
func (f *createFlags) definition(cmd *cobra.Command) (batchfile.Definition, error) {
	var def batchfile.Definition
	if f.from != "" {
		loaded, err := batchfile.Load(f.from)
		if err != nil {
			return batchfile.Definition{}, err
		}
		def = loaded
	}
	changed := cmd.Flags().Changed
	if changed("name") {
		def.Name = f.name
	}
	if changed("description") {
		def.Description = f.description
	}
	if changed("output-dir") {
		def.OutputDir = f.outputDir
	}
	def.URLs = append(def.URLs, f.urls...)
	if f.urlsFile != "" {
		urls, err := batchfile.ReadURLList(f.urlsFile)
		if err != nil {
			return batchfile.Definition{}, err
		}
		def.URLs = append(def.URLs, urls...)
	}
	if changed("format") {
		def.Format = &f.format
	}
	if changed("workers") {
		def.ConcurrentWorkers = &f.workers
	}
	if changed("timeout") {
		def.TimeoutSeconds = &f.timeout
	}
	if changed("browser") {
		def.UseBrowser = &f.browser
	}
	if changed("images") {
		def.IncludeImages = &f.images
	}
	if changed("links") {
		def.IncludeLinks = &f.links
	}
	if changed("random-delay") {
		def.RateLimit.UseRandomDelay = &f.randomDelay
	}
	if changed("adaptive-delay") {
		def.RateLimit.UseAdaptiveDelay = &f.adaptiveDelay
	}
	if changed("breaks") {
		def.RateLimit.UseScheduledBreaks = &f.breaks
	}
	return def, nil
}

func newBatchCreateCmd(conn *connFlags) *cobra.Command {
	f := &createFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending batch",
		Long: `Creates a batch from flags, a URL list file (one URL per line, # comments),
or a YAML/TOML/JSON batch definition. Flags override the definition file and
anything left unset takes the server's batch defaults.`,
		Example: `  batchcrawl batch create --name news --urls-file urls.txt --format text
  batchcrawl batch create --from batch.yaml --workers 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := f.definition(cmd)
			if err != nil {
				return err
			}
			c, err := conn.client(cmd)
			if err != nil {
				return err
			}
			b, err := c.CreateBatch(cmd.Context(), def)
			if err != nil {
				return fmt.Errorf("create batch: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created batch %s (%s) with %d URLs\n", b.ID, b.Name, b.Total)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.from, "from", "", "batch definition file (.yaml, .yml, .toml or .json)")
	flags.StringVar(&f.urlsFile, "urls-file", "", "text file with one URL per line")
	flags.StringVar(&f.name, "name", "", "batch name")
	flags.StringVar(&f.description, "description", "", "batch description")
	flags.StringSliceVar(&f.urls, "url", nil, "URL to crawl (repeatable)")
	flags.StringVar(&f.outputDir, "output-dir", "", "directory for rendered outputs (default the batch ID)")
	flags.StringVar(&f.format, "format", "", "output format: markdown, html, text or json")
	flags.IntVar(&f.workers, "workers", 0, "concurrent workers")
	flags.Float64Var(&f.timeout, "timeout", 0, "per-URL timeout in seconds")
	flags.BoolVar(&f.browser, "browser", false, "render pages in a headless browser")
	flags.BoolVar(&f.images, "images", true, "keep image references")
	flags.BoolVar(&f.links, "links", true, "keep link references")
	flags.BoolVar(&f.randomDelay, "random-delay", false, "sleep a random delay before each request")
	flags.BoolVar(&f.adaptiveDelay, "adaptive-delay", false, "back off after slow responses")
	flags.BoolVar(&f.breaks, "breaks", false, "take scheduled breaks every N requests")
	return cmd
}

func newBatchListCmd(conn *connFlags) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := conn.client(cmd)
			if err != nil {
				return err
			}
			batches, err := c.ListBatches(cmd.Context(), crawler.BatchStatus(strings.ToLower(status)), limit)
			if err != nil {
				return fmt.Errorf("list batches: %w", err)
			}
			if len(batches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No batches found.")
				return nil
			}
			renderBatches(cmd.OutOrStdout(), batches)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only batches in this status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of batches (server default 50)")
	return cmd
}

func newBatchShowCmd(conn *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show a batch and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := conn.client(cmd)
			if err != nil {
				return err
			}
			b, err := c.GetBatch(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get batch: %w", err)
			}
			renderBatch(cmd.OutOrStdout(), b)
			return nil
		},
	}
}

func newBatchStartCmd(conn *connFlags) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "start <batch-id>",
		Short: "Start or resume a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := conn.client(cmd)
			if err != nil {
				return err
			}
			b, err := c.StartBatch(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("start batch: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Started batch %s (%d URLs remaining)\n", b.ID, b.Remaining)
			if !wait {
				return nil
			}
			b, err = c.WaitBatch(cmd.Context(), b.ID, interval, func(b client.Batch) {
				fmt.Fprintf(out, "%s %d%% (%d/%d, %d failed)\n", b.Status, b.Progress, b.Processed, b.Total, b.Failed)
			})
			if err != nil {
				return fmt.Errorf("wait for batch: %w", err)
			}
			renderBatch(out, b)
			if b.Status == crawler.BatchStatusFailed {
				return fmt.Errorf("batch %s failed: %s", b.ID, b.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the batch stops running")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval for --wait")
	return cmd
}

func newBatchPauseCmd(conn *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <batch-id>",
		Short: "Pause a running batch after its in-flight items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := conn.client(cmd)
			if err != nil {
				return err
			}
			b, err := c.PauseBatch(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("pause batch: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pausing batch %s (%s)\n", b.ID, b.Status)
			return nil
		},
	}
}

func newBatchRetryCmd(conn *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <batch-id>",
		Short: "Reset every failed item of a batch to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := conn.client(cmd)
			if err != nil {
				return err
			}
			n, err := c.RetryFailed(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("retry failed items: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed items of batch %s\n", n, args[0])
			return nil
		},
	}
}

func newBatchRetryItemCmd(conn *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-item <item-id>",
		Short: "Reset one failed item to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := conn.client(cmd)
			if err != nil {
				return err
			}
			item, err := c.RetryItem(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("retry item: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Item %s of batch %s is %s\n", item.ID, item.BatchID, item.Status)
			return nil
		},
	}
}

func newBatchDeleteCmd(conn *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <batch-id>",
		Short: "Delete a batch that is not running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := conn.client(cmd)
			if err != nil {
				return err
			}
			if err := c.DeleteBatch(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete batch: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted batch %s\n", args[0])
			return nil
		},
	}
}

func newBatchExportCmd(conn *connFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <batch-id>",
		Short: "Write the export document of a batch",
		Long: `Writes the batch summary and every successful result with its stored
content as JSON. Use -o to write to a file; "-o ." picks the default name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := conn.client(cmd)
			if err != nil {
				return err
			}
			if output == "" {
				return c.Export(cmd.Context(), args[0], cmd.OutOrStdout())
			}
			if output == "." {
				output = export.Filename(args[0])
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			if err := c.Export(cmd.Context(), args[0], f); err != nil {
				_ = f.Close()
				_ = os.Remove(output)
				return fmt.Errorf("export batch: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close export file: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func renderBatches(w io.Writer, batches []client.Batch) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Status", "Progress", "Successful", "Failed", "Total", "Created"})
	for _, b := range batches {
		t.AppendRow(table.Row{
			b.ID,
			b.Name,
			b.Status,
			fmt.Sprintf("%d%%", b.Progress),
			b.Successful,
			b.Failed,
			b.Total,
			b.CreatedAt.Local().Format(time.DateTime),
		})
	}
	t.Render()
}

func renderBatch(w io.Writer, b client.Batch) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleLight)
	summary.AppendRows([]table.Row{
		{"ID", b.ID},
		{"Name", b.Name},
		{"Status", b.Status},
		{"Progress", fmt.Sprintf("%d%% (%d/%d)", b.Progress, b.Processed, b.Total)},
		{"Successful", b.Successful},
		{"Failed", b.Failed},
		{"Format", b.Format},
		{"Output dir", b.OutputDir},
	})
	if b.ErrorMessage != "" {
		summary.AppendRow(table.Row{"Error", b.ErrorMessage})
	}
	summary.Render()

	if len(b.Items) == 0 {
		return
	}
	items := table.NewWriter()
	items.SetOutputMirror(w)
	items.SetStyle(table.StyleLight)
	items.AppendHeader(table.Row{"#", "Item", "URL", "Status", "Error"})
	for _, item := range b.Items {
		items.AppendRow(table.Row{item.Position, item.ID, item.URL, item.Status, item.ErrorType})
	}
	items.Render()
}
