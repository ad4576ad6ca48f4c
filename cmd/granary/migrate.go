package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/docstore"
	"github.com/okvist/granary/migrate"
)

func runMigrate() error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	sf := addStoreFlags(fs)

	fs.Usage = func() {
		fmt.Println(`granary migrate - run pending data migrations

Usage:
  granary migrate [flags]

Flags:`)
		fs.PrintDefaults()
		fmt.Println(`
Each migration commits its writes together with a marker item, so
rerunning is safe: applied migrations are skipped.`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger := newLogger()
	store, _, err := openStore(sf, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runner, err := migrate.NewRunner(store, logger, migrations()...)
	if err != nil {
		return err
	}
	applied, err := runner.Apply(context.Background())
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Println("nothing to do")
		return nil
	}
	for _, id := range applied {
		fmt.Printf("applied %s\n", id)
	}
	return nil
}

// migrations is the ordered set of one-time changes shipped with the
// tool.
func migrations() []migrate.Migration {
	return []migrate.Migration{
		{
			ID: "0001_store_meta",
			Ops: func(ctx context.Context, store *docstore.Store) ([]docstore.TransactOp, error) {
				keys := store.Definition().Keys
				meta := docstore.Item{
					keys.PartitionKey.Name: &types.AttributeValueMemberS{Value: "STORE"},
					keys.SortKey.Name:      &types.AttributeValueMemberS{Value: "META"},
					"schemaVersion":        &types.AttributeValueMemberN{Value: "1"},
					"createdAt":            &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
				}
				return []docstore.TransactOp{{Put: &docstore.TransactPut{Item: meta}}}, nil
			},
		},
	}
}
