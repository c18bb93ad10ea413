package main

import (
	"context"
	"flag"

	"go.uber.org/zap"
)

func runListTables(args []string) error {
	fs := flag.NewFlagSet("list-tables", flag.ExitOnError)
	customOnly := fs.Bool("custom", false, "List only custom tables")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := clientFromEnv()
	if err != nil {
		return err
	}

	tables, err := client.ListTables(context.Background(), *customOnly)
	if err != nil {
		return err
	}

	sugar := zap.S()
	sugar.Infof("%d tables", len(tables))
	for _, t := range tables {
		sugar.Infof("  %-44s set=%-48s custom=%v", t.LogicalName, t.EntitySetName, t.IsCustom)
	}
	return nil
}
