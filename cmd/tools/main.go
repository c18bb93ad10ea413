package main

import (
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
	"github.com/lychee-technology/dataverse/factory"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Errorf("failed to set up logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list-tables":
		if err := runListTables(os.Args[2:]); err != nil {
			sugar.Fatalf("list-tables: %v", err)
		}
	case "describe-table":
		if err := runDescribeTable(os.Args[2:]); err != nil {
			sugar.Fatalf("describe-table: %v", err)
		}
	case "delete-table":
		if err := runDeleteTable(os.Args[2:]); err != nil {
			sugar.Fatalf("delete-table: %v", err)
		}
	default:
		sugar.Errorf("unknown command %q", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	logger := zap.S()
	logger.Info("Usage: dataverse-tools <command> [options]")
	logger.Info("")
	logger.Info("Commands:")
	logger.Info("  list-tables      List tables in the environment")
	logger.Info("  describe-table   Show names, ids, and alternate keys of one table")
	logger.Info("  delete-table     Delete a custom table")
	logger.Info("")
	logger.Info("Connection settings come from .env/environment: DATAVERSE_URL,")
	logger.Info("DATAVERSE_SOLUTION, AZURE_TENANT_ID/AZURE_CLIENT_ID/AZURE_CLIENT_SECRET.")
}

// clientFromEnv builds a client from .env/environment settings.
func clientFromEnv() (dataverse.Client, error) {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
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

func newCredential() (azcore.TokenCredential, error) {
	tenant := os.Getenv("AZURE_TENANT_ID")
	clientID := os.Getenv("AZURE_CLIENT_ID")
	secret := os.Getenv("AZURE_CLIENT_SECRET")
	if tenant != "" && clientID != "" && secret != "" {
		return azidentity.NewClientSecretCredential(tenant, clientID, secret, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}
