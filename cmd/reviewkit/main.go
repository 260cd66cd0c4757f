package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reviewkit/reviewkit/internal/pipeline"
	"github.com/reviewkit/reviewkit/internal/store"
	"github.com/reviewkit/reviewkit/internal/store/postgres"
	"github.com/reviewkit/reviewkit/pkg/config"
	"github.com/reviewkit/reviewkit/pkg/logger"
	"github.com/reviewkit/reviewkit/pkg/metrics"
	"github.com/reviewkit/reviewkit/pkg/vault"

	// Import all available connectors to register them
	_ "github.com/reviewkit/reviewkit/pkg/connector/sources/csvfile"
	_ "github.com/reviewkit/reviewkit/pkg/connector/sources/manualexport"
	_ "github.com/reviewkit/reviewkit/pkg/connector/sources/vendorjson"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile, databaseURL, logLevel string

	root := &cobra.Command{
		Use:   "reviewkit",
		Short: "ReviewKit - customer review ingestion and normalization",
		Long: `ReviewKit ingests customer reviews from file uploads and vendor exports,
normalizes them into a single schema, and records every run with full
partial-failure accounting.`,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres connection string (overrides config; empty uses in-memory store)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ReviewKit v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "connectors",
		Short: "List known connector types",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := buildService(cmd.Context(), configFile, databaseURL, logLevel)
			if err != nil {
				return err
			}
			for _, c := range svc.ListConnectorTypes() {
				marker := " "
				if !c.Available {
					marker = "!"
				}
				fmt.Printf("%s %-16s %s\n", marker, c.SourceType, c.DisplayName)
			}
			fmt.Println("\nEntries marked ! are cataloged but have no implementation yet.")
			return nil
		},
	})

	root.AddCommand(initCmd())
	root.AddCommand(createCmd(&configFile, &databaseURL, &logLevel))
	root.AddCommand(configCmd(&configFile, &databaseURL, &logLevel))
	root.AddCommand(ingestCmd(&configFile, &databaseURL, &logLevel))
	root.AddCommand(runsCmd(&configFile, &databaseURL, &logLevel))
	root.AddCommand(errorsCmd(&configFile, &databaseURL, &logLevel))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file with default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("refusing to overwrite existing %s", out)
			}
			if err := config.Save(out, config.Default()); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "reviewkit.yaml", "Destination path for the configuration file")
	return cmd
}

func createCmd(configFile, databaseURL, logLevel *string) *cobra.Command {
	var tenantID, sourceType, displayName, connectorConfigFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a connector instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := buildService(cmd.Context(), *configFile, *databaseURL, *logLevel)
			if err != nil {
				return err
			}

			var ccfg *config.ConnectorConfig
			if connectorConfigFile != "" {
				ccfg = &config.ConnectorConfig{}
				data, err := os.ReadFile(connectorConfigFile) //nolint:gosec // G304: path is operator-provided
				if err != nil {
					return fmt.Errorf("failed to read connector config %s: %w", connectorConfigFile, err)
				}
				if err := gojson.Unmarshal(data, ccfg); err != nil {
					return fmt.Errorf("failed to parse connector config %s: %w", connectorConfigFile, err)
				}
			}

			record, err := svc.CreateConnector(cmd.Context(), tenantID, sourceType, displayName, ccfg)
			if err != nil {
				return err
			}
			fmt.Printf("created connector %s (%s)\n", record.ID, record.SourceType)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&sourceType, "type", "", "Source type, e.g. csv, vendor_json, manual_export (required)")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name")
	cmd.Flags().StringVar(&connectorConfigFile, "connector-config", "", "Path to connector configuration JSON file")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func configCmd(configFile, databaseURL, logLevel *string) *cobra.Command {
	var connectorID, connectorConfigFile string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update a connector's configuration",
		Long: `With --set, validates and re-encrypts the configuration from the given
JSON file. Without it, prints the stored configuration with credential
values masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := buildService(cmd.Context(), *configFile, *databaseURL, *logLevel)
			if err != nil {
				return err
			}

			if connectorConfigFile != "" {
				var ccfg config.ConnectorConfig
				data, err := os.ReadFile(connectorConfigFile) //nolint:gosec // G304: path is operator-provided
				if err != nil {
					return fmt.Errorf("failed to read connector config %s: %w", connectorConfigFile, err)
				}
				if err := gojson.Unmarshal(data, &ccfg); err != nil {
					return fmt.Errorf("failed to parse connector config %s: %w", connectorConfigFile, err)
				}
				if err := svc.UpdateConnectorConfig(cmd.Context(), connectorID, &ccfg); err != nil {
					return err
				}
				fmt.Println("configuration updated")
				return nil
			}

			ccfg, err := svc.GetConnectorConfig(cmd.Context(), connectorID)
			if err != nil {
				return err
			}
			return printJSON(ccfg)
		},
	}

	cmd.Flags().StringVar(&connectorID, "connector", "", "Connector ID (required)")
	cmd.Flags().StringVar(&connectorConfigFile, "set", "", "Path to connector configuration JSON file to store")
	_ = cmd.MarkFlagRequired("connector")
	return cmd
}

func ingestCmd(configFile, databaseURL, logLevel *string) *cobra.Command {
	var tenantID, connectorID, uploadFile string
	var limit int
	var since, until string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run an ingestion for a connector",
		Long: `Runs one ingestion synchronously and prints the run summary. Pass
--file to ingest an uploaded export (CSV, vendor JSON, or manual JSON;
.gz accepted); omit it to trigger a live fetch for sources that
support one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, log, err := buildService(cmd.Context(), *configFile, *databaseURL, *logLevel)
			if err != nil {
				return err
			}

			req := pipeline.StartRequest{
				TenantID:    tenantID,
				ConnectorID: connectorID,
				RunType:     pipeline.RunTypeManual,
				Limit:       limit,
			}

			if uploadFile != "" {
				data, err := os.ReadFile(uploadFile) //nolint:gosec // G304: path is operator-provided
				if err != nil {
					return fmt.Errorf("failed to read upload %s: %w", uploadFile, err)
				}
				req.FileData = data
				req.Filename = filepath.Base(uploadFile)
				req.RunType = pipeline.RunTypeUpload
			}

			if req.Since, err = parseTimeFlag(since); err != nil {
				return err
			}
			if req.Until, err = parseTimeFlag(until); err != nil {
				return err
			}

			result, err := svc.StartIngestion(cmd.Context(), req)
			if err != nil {
				return err
			}

			_ = log.Sync()
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&connectorID, "connector", "", "Connector ID (required)")
	cmd.Flags().StringVar(&uploadFile, "file", "", "Path to an export file to ingest")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum reviews to fetch (0 = no limit)")
	cmd.Flags().StringVar(&since, "since", "", "Only fetch reviews after this RFC3339 timestamp")
	cmd.Flags().StringVar(&until, "until", "", "Only fetch reviews before this RFC3339 timestamp")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("connector")
	return cmd
}

func runsCmd(configFile, databaseURL, logLevel *string) *cobra.Command {
	var connectorID string
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ingestion runs for a connector",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := buildService(cmd.Context(), *configFile, *databaseURL, *logLevel)
			if err != nil {
				return err
			}
			runs, err := svc.ListRuns(cmd.Context(), connectorID, limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Printf("%s  %-9s  fetched=%d created=%d updated=%d skipped=%d dupes=%d errors=%d  %s\n",
					r.ID, r.Status, r.ReviewsFetched, r.ReviewsCreated, r.ReviewsUpdated,
					r.ReviewsSkipped, r.DuplicatesFound, r.ErrorCount,
					r.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&connectorID, "connector", "", "Connector ID (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	_ = cmd.MarkFlagRequired("connector")
	return cmd
}

func errorsCmd(configFile, databaseURL, logLevel *string) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List the recorded errors for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := buildService(cmd.Context(), *configFile, *databaseURL, *logLevel)
			if err != nil {
				return err
			}
			errs, err := svc.GetRunErrors(cmd.Context(), runID)
			if err != nil {
				return err
			}
			for _, e := range errs {
				retryable := ""
				if e.Retryable {
					retryable = " (retryable)"
				}
				fmt.Printf("[%s]%s %s\n", strings.ToUpper(e.ErrorType), retryable, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run ID (required)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

// buildService wires the store, vault, registry, and orchestrator from
// the effective configuration.
func buildService(ctx context.Context, configFile, databaseURL, logLevel string) (*pipeline.Service, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}); err != nil {
		return nil, nil, err
	}

	v, err := vault.FromEnv()
	if err != nil {
		return nil, nil, err
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		st = pg
	} else {
		st = store.NewMemory()
	}

	var m *metrics.Metrics
	if cfg.Observability.EnableMetrics {
		m = metrics.New(nil)
	}

	orch := pipeline.New(st, v, nil, cfg.Ingestion, m)
	return pipeline.NewService(orch), logger.Get(), nil
}

func parseTimeFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q (want RFC3339): %w", value, err)
	}
	return &t, nil
}

func printJSON(v interface{}) error {
	out, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
