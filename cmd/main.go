package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sabarim/dsingest/internal/api"
	"github.com/sabarim/dsingest/internal/dataset"
	"github.com/sabarim/dsingest/internal/export"
	"github.com/sabarim/dsingest/internal/ingest"
	"github.com/sabarim/dsingest/internal/store"
)

var (
	configFile string
	verbose    bool
	version    bool

	fileFlag   string
	urlFlag    string
	nameFlag   string
	typeFlag   string
	processNow bool

	statusFlag string
	limitFlag  int

	formatFlag    string
	outputDir     string
	partitionFlag bool

	addrFlag string
)

var versionString = "0.1.0"

func main() {
	// .env is optional
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "dsingest",
		Short: "Ingest CSV/JSON market datasets into daily summaries",
		Long: `dsingest registers uploaded CSV or JSON files, detects their date and numeric columns,
aggregates them into per-day (and per-symbol) OHLC summaries and stores the results.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if version {
				fmt.Printf("dsingest version %s\n", versionString)
				return nil
			}
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.Flags().BoolVar(&version, "version", false, "Print version information")

	rootCmd.AddCommand(
		registerCommand(),
		idCommand("process", "Process a pending dataset", runProcess),
		idCommand("retry", "Reset a dataset and process it again", runRetry),
		idCommand("delete", "Delete a dataset, its summaries and its file", runDelete),
		listCommand(),
		idCommand("show", "Show a dataset and its daily summaries", runShow),
		exportCommand(),
		serveCommand(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func registerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a local file or a remote URL as a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return runRegister(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&fileFlag, "file", "", "Path of the CSV or JSON file to register")
	cmd.Flags().StringVar(&urlFlag, "url", "", "URL to download the file from")
	cmd.Flags().StringVar(&nameFlag, "name", "", "Dataset name (defaults to the file name)")
	cmd.Flags().StringVar(&typeFlag, "type", "", "File type, csv or json (defaults to the extension)")
	cmd.Flags().BoolVar(&processNow, "process", true, "Process the dataset right after registering")
	cmd.MarkFlagsMutuallyExclusive("file", "url")
	cmd.MarkFlagsOneRequired("file", "url")
	return cmd
}

func idCommand(use, short string, run func(ctx context.Context, a *app, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <dataset-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return run(ctx, a, args[0])
			})
		},
	}
}

func listCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered datasets, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), runList)
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Only list datasets with this status")
	cmd.Flags().IntVar(&limitFlag, "limit", 50, "Maximum number of datasets to list")
	return cmd
}

func exportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <dataset-id>",
		Short: "Export the daily summaries of a dataset to CSV or Parquet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if cmd.Flags().Changed("partition") {
					a.cfg.Export.PartitionByMonth = partitionFlag
				}
				return runExport(ctx, a, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&formatFlag, "format", "", "Export format, csv or parquet (defaults to config)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Output directory (defaults to config)")
	cmd.Flags().BoolVar(&partitionFlag, "partition", false, "Write one file per calendar month")
	return cmd
}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dataset HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), runServe)
		},
	}
	cmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (defaults to config)")
	return cmd
}

// withApp builds the application, cancels ctx on SIGINT/SIGTERM and runs fn
func withApp(parent context.Context, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, configFile, verbose)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runRegister(ctx context.Context, a *app) error {
	in := ingest.RegisterInput{Name: nameFlag, FileType: typeFlag}
	if urlFlag != "" {
		file, err := a.fetcher.Fetch(ctx, urlFlag)
		if err != nil {
			return err
		}
		in.FileName, in.Data = file.Name, file.Data
	} else {
		data, err := os.ReadFile(fileFlag)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", fileFlag, err)
		}
		in.FileName, in.Data = filepath.Base(fileFlag), data
	}

	d, err := a.processor.Register(ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("Registered dataset %s (%s)\n", d.ID, d.Name)
	if !processNow {
		return nil
	}
	return runProcess(ctx, a, d.ID)
}

func runProcess(ctx context.Context, a *app, id string) error {
	return printResult(a.processor.Process(ctx, id))
}

func runRetry(ctx context.Context, a *app, id string) error {
	return printResult(a.processor.Retry(ctx, id))
}

func printResult(result *ingest.Result, err error) error {
	if result != nil {
		if perr := printJSON(result); perr != nil {
			return perr
		}
	}
	return err
}

func runDelete(ctx context.Context, a *app, id string) error {
	if err := a.processor.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Deleted dataset %s\n", id)
	return nil
}

func runList(ctx context.Context, a *app) error {
	items, err := a.processor.List(ctx, store.ListOptions{Status: dataset.Status(statusFlag), Limit: limitFlag})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tROWS\tCREATED")
	for _, d := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", d.ID, d.Name, d.FileType, d.Status, d.RowCount, d.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runShow(ctx context.Context, a *app, id string) error {
	d, err := a.processor.Get(ctx, id)
	if err != nil {
		return err
	}
	summaries, err := a.processor.Summaries(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"dataset": d, "summaries": summaries})
}

func runExport(ctx context.Context, a *app, id string) error {
	cfg := a.cfg.Export
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	format := export.Format(cfg.Format)
	if formatFlag != "" {
		format = export.Format(formatFlag)
	}

	d, err := a.processor.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != dataset.StatusCompleted {
		return fmt.Errorf("dataset %s is %s, only completed datasets can be exported", id, d.Status)
	}
	summaries, err := a.processor.Summaries(ctx, id)
	if err != nil {
		return err
	}

	exporter, err := export.NewExporter(cfg, a.log)
	if err != nil {
		return err
	}
	files, err := exporter.Export(d, summaries, format)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}

func runServe(ctx context.Context, a *app) error {
	addr := a.cfg.Server.Address
	if addrFlag != "" {
		addr = addrFlag
	}
	gin.SetMode(a.cfg.Server.Mode)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(a.processor, a.fetcher, a.log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log := a.log.WithComponent("server")
	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", addr).Info("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("received shutdown signal, stopping HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
