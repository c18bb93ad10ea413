package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

func runDescribeTable(args []string) error {
	fs := flag.NewFlagSet("describe-table", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: describe-table <table>")
	}
	name := fs.Arg(0)

	client, err := clientFromEnv()
	if err != nil {
		return err
	}
	ctx := context.Background()

	info, ok, err := client.FindTable(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("table %q not found", name)
	}

	sugar := zap.S()
	sugar.Infof("Schema name:   %s", info.SchemaName)
	sugar.Infof("Logical name:  %s", info.LogicalName)
	sugar.Infof("Entity set:    %s", info.EntitySetName)
	sugar.Infof("Primary id:    %s", info.PrimaryIDName)
	sugar.Infof("Metadata id:   %s", info.MetadataID)
	sugar.Infof("Custom:        %v", info.IsCustom)

	keys, err := client.ListAlternateKeys(ctx, info.LogicalName)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		sugar.Infof("Alternate keys:")
		for _, k := range keys {
			sugar.Infof("  %-32s columns=%s status=%s",
				k.SchemaName, strings.Join(k.Columns, ","), k.Status)
		}
	}
	return nil
}
