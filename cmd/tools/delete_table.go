package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

func runDeleteTable(args []string) error {
	fs := flag.NewFlagSet("delete-table", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: delete-table [-yes] <table>")
	}
	name := fs.Arg(0)

	if !*yes {
		fmt.Printf("Delete table %q and all its records? [y/N] ", name)
		var answer string
		fmt.Scanln(&answer)
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			return fmt.Errorf("aborted")
		}
	}

	client, err := clientFromEnv()
	if err != nil {
		return err
	}
	if err := client.DeleteTable(context.Background(), name); err != nil {
		return err
	}
	zap.S().Infof("Table %q deleted", name)
	return nil
}
