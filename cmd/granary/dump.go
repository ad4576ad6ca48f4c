package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/okvist/granary/docstore"
)

func runDump() error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	sf := addStoreFlags(fs)
	index := fs.String("index", "", "dump a secondary index instead of the table")
	filter := fs.String("filter", "", "filter expression")
	var strs, nums, names pairList
	fs.Var(&strs, "str", "string placeholder, name=value (repeatable)")
	fs.Var(&nums, "num", "number placeholder, name=value (repeatable)")
	fs.Var(&names, "name", "attribute name placeholder, alias=attribute (repeatable)")

	fs.Usage = func() {
		fmt.Println(`granary dump - scan the table or an index

Usage:
  granary dump [flags]

Flags:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  granary dump
  granary dump --index grant-index
  granary dump --filter 'kind = :k' --str k=entry`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	values, err := placeholderValues(strs, nums)
	if err != nil {
		return err
	}
	nameMap, err := placeholderNames(names)
	if err != nil {
		return err
	}

	logger := newLogger()
	store, _, err := openStore(sf, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	in := docstore.ScanInput{
		ExpressionNames:  nameMap,
		ExpressionValues: values,
	}
	if *index != "" {
		in.IndexName = aws.String(*index)
	}
	if *filter != "" {
		in.Filter = aws.String(*filter)
	}

	ctx := context.Background()
	total := 0
	for {
		out, err := store.Scan(ctx, in)
		if err != nil {
			return err
		}
		if err := printItems(out.Items); err != nil {
			return err
		}
		total += len(out.Items)
		if out.LastEvaluatedKey == nil {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	fmt.Fprintf(os.Stderr, "%d item(s)\n", total)
	return nil
}
