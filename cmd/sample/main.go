package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
	"github.com/lychee-technology/dataverse/factory"
)

func main() {
	// Command line flags
	csvFile := flag.String("csv", "", "Path to CSV file to import (required)")
	table := flag.String("table", "new_sampleitem", "Logical name of the target table")
	batchSize := flag.Int("batch-size", 100, "Records per multi-create batch")
	createTable := flag.Bool("create-table", false, "Create the target table if it does not exist")
	dryRun := flag.Bool("dry-run", false, "Parse CSV and validate mappings without calling the service")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	// Setup logging
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	if *verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if *csvFile == "" {
		sugar.Error("Error: -csv flag is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()

	// Dry run mode - validate the CSV without a client
	if *dryRun {
		sugar.Infof("Dry run mode: validating CSV file %s", *csvFile)
		importer := NewCSVImporter(noopCreator{}, buildItemMapper(*table, nil), *batchSize)
		importer.SetLogger(sugar.Named("Import"))
		result, err := importer.ImportFromFile(ctx, *csvFile)
		if err != nil {
			sugar.Fatalf("Dry run failed: %v", err)
		}
		printResult(result, sugar)
		os.Exit(0)
	}

	// Connect to Dataverse
	sugar.Infof("Connecting to Dataverse...")
	client, err := newClientFromEnv(sugar)
	if err != nil {
		sugar.Fatalf("Failed to create client: %v", err)
	}

	if *createTable {
		ensureTable(ctx, client, *table, sugar)
	}

	// Picklist labels in the CSV are resolved through the metadata cache.
	lookup := func(column, label string) (int32, error) {
		return client.PicklistValue(ctx, *table, column, label)
	}
	importer := NewCSVImporter(client, buildItemMapper(*table, lookup), *batchSize)
	importer.SetLogger(sugar.Named("Import"))

	// Execute import
	sugar.Infof("Starting import from: %s", *csvFile)
	sugar.Infof("Target table: %s, Batch size: %d", *table, *batchSize)

	startTime := time.Now()
	result, err := importer.ImportFromFile(ctx, *csvFile)
	if err != nil {
		sugar.Fatalf("Import failed: %v", err)
	}

	sugar.Infof("Import completed in %v", time.Since(startTime))
	printResult(result, sugar)

	queryExample(ctx, client, *table, sugar)

	// Exit with error code if there were failures
	if result.FailedCount > 0 {
		os.Exit(1)
	}
}

// newClientFromEnv builds a client from .env/environment settings:
// DATAVERSE_URL, optional DATAVERSE_SOLUTION, and the AZURE_* credential
// variables.
func newClientFromEnv(sugar *zap.SugaredLogger) (dataverse.Client, error) {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			sugar.Debugf("Loaded environment from %s", p)
			break
		}
	}

	baseURL := os.Getenv("DATAVERSE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("DATAVERSE_URL is not set")
	}

	cfg := dataverse.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.SolutionName = os.Getenv("DATAVERSE_SOLUTION")

	cred, err := newCredential()
	if err != nil {
		return nil, err
	}
	return factory.NewClientWithCredential(cfg, cred)
}

// newCredential prefers an explicit service principal and falls back to
// the azidentity default chain (CLI login, managed identity, ...).
func newCredential() (azcore.TokenCredential, error) {
	tenant := os.Getenv("AZURE_TENANT_ID")
	clientID := os.Getenv("AZURE_CLIENT_ID")
	secret := os.Getenv("AZURE_CLIENT_SECRET")
	if tenant != "" && clientID != "" && secret != "" {
		return azidentity.NewClientSecretCredential(tenant, clientID, secret, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}

// buildItemMapper maps the sample inventory CSV layout onto the target
// table. A nil picklist lookup (dry run) leaves category labels as-is.
func buildItemMapper(table string, lookup PicklistLookup) RecordMapper {
	return NewMapperBuilder(table).
		Required("Name", "new_name").
		MapWith("Quantity", "new_quantity", ToInt()).
		MapWith("Price", "new_price", ToFloat64()).
		MapWith("InStock", "new_instock", DefaultWith(true, ToBool())).
		MapWith("Category", "new_category", Picklist("new_category", lookup)).
		MapWith("Notes", "new_notes", Trim()).
		Build()
}

// ensureTable creates the target table with the sample item columns when
// it does not exist yet.
func ensureTable(ctx context.Context, client dataverse.Client, table string, sugar *zap.SugaredLogger) {
	_, ok, err := client.FindTable(ctx, table)
	if err != nil {
		sugar.Fatalf("Failed to look up table %q: %v", table, err)
	}
	if ok {
		sugar.Infof("Table %q already exists", table)
		return
	}

	sugar.Infof("Creating table %q...", table)
	info, err := client.CreateTable(ctx, &dataverse.TableSpec{
		SchemaName:  table,
		DisplayName: "Sample Item",
		Description: "Inventory rows imported from CSV",
		Columns: []dataverse.ColumnSpec{
			{SchemaName: "new_Quantity", Type: dataverse.ColumnTypeInt, DisplayName: "Quantity"},
			{SchemaName: "new_Price", Type: dataverse.ColumnTypeFloat, DisplayName: "Price"},
			{SchemaName: "new_InStock", Type: dataverse.ColumnTypeBool, DisplayName: "In Stock"},
			{SchemaName: "new_Category", Type: dataverse.ColumnTypePicklist, DisplayName: "Category",
				Options: []string{"Hardware", "Software", "Service"}},
			{SchemaName: "new_Notes", Type: dataverse.ColumnTypeMemo, DisplayName: "Notes"},
		},
	})
	if err != nil {
		sugar.Fatalf("Failed to create table: %v", err)
	}
	sugar.Infof("Table created: logical=%s entitySet=%s", info.LogicalName, info.EntitySetName)
}

// queryExample pages through a few imported rows and runs the same read
// through the SQL endpoint.
func queryExample(ctx context.Context, client dataverse.Client, table string, sugar *zap.SugaredLogger) {
	sugar.Infof("Querying imported rows...")
	pages, err := client.Query(ctx, table, &dataverse.QueryOptions{
		Select:   []string{"new_name", "new_quantity", "new_price"},
		OrderBy:  []string{"new_name"},
		Top:      5,
		PageSize: 5,
	})
	if err != nil {
		sugar.Errorf("Query failed: %v", err)
		return
	}

	n := 0
	for pages.Next(ctx) {
		for _, record := range pages.Page().Records {
			n++
			out, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				continue
			}
			sugar.Infof("Record %d:", n)
			sugar.Info(string(out))
		}
	}
	if err := pages.Err(); err != nil {
		sugar.Errorf("Query failed: %v", err)
		return
	}

	sugar.Infof("Running SQL query example...")
	rows, err := client.QuerySQL(ctx,
		fmt.Sprintf("SELECT new_name, new_quantity FROM %s WHERE new_quantity > 0", table))
	if err != nil {
		sugar.Errorf("SQL query failed: %v", err)
		return
	}
	sugar.Infof("SQL query returned %d rows", len(rows))
}

// printResult prints the import result summary.
func printResult(result *ImportResult, sugar *zap.SugaredLogger) {
	sugar.Info(strings.Repeat("=", 52))
	sugar.Info("Import Summary")
	sugar.Info(strings.Repeat("=", 52))
	sugar.Infof("  Total rows:     %d", result.TotalRows)
	sugar.Infof("  Successful:     %d", result.SuccessCount)
	sugar.Infof("  Failed:         %d", result.FailedCount)
	sugar.Infof("  Duration:       %v", result.Duration)

	if len(result.Errors) > 0 {
		sugar.Infof("First %d errors:", min(10, len(result.Errors)))
		for i, err := range result.Errors {
			if i >= 10 {
				sugar.Infof("  ... and %d more errors", len(result.Errors)-10)
				break
			}
			sugar.Infof("  [%d] %s", i+1, err.Error())
		}
	}
}

// noopCreator satisfies bulkCreator for dry runs.
type noopCreator struct{}

func (noopCreator) CreateMany(ctx context.Context, table string, records []dataverse.Record) ([]string, error) {
	return make([]string, len(records)), nil
}
