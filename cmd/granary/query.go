package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/docstore"
)

func runQuery() error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	sf := addStoreFlags(fs)
	key := fs.String("key", "", "key condition expression (required)")
	filter := fs.String("filter", "", "filter expression")
	index := fs.String("index", "", "query a secondary index")
	limit := fs.Int("limit", 0, "stop after one page of this size")
	desc := fs.Bool("desc", false, "descending sort-key order")
	var strs, nums, names pairList
	fs.Var(&strs, "str", "string placeholder, name=value (repeatable)")
	fs.Var(&nums, "num", "number placeholder, name=value (repeatable)")
	fs.Var(&names, "name", "attribute name placeholder, alias=attribute (repeatable)")

	fs.Usage = func() {
		fmt.Println(`granary query - run a key-condition query

Usage:
  granary query --key <expression> [flags]

Flags:`)
		fs.PrintDefaults()
		fmt.Println(`
Placeholders in the expression are bound with --str and --num (values)
and --name (attribute names). Items print as one JSON object per line.

Examples:
  granary query --key 'pk = :pk' --str pk=ada.lovelace
  granary query --key 'pk = :pk AND begins_with(sk, :d)' \
    --str pk=ada.lovelace --str d=2026-08-25#
  granary query --index grant-index --key 'grant = :g' --str g=G-0042 \
    --filter 'hours > :h' --num h=2`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *key == "" {
		fs.Usage()
		return fmt.Errorf("--key is required")
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

	in := docstore.QueryInput{
		KeyCondition:     *key,
		ExpressionNames:  nameMap,
		ExpressionValues: values,
	}
	if *filter != "" {
		in.Filter = aws.String(*filter)
	}
	if *index != "" {
		in.IndexName = aws.String(*index)
	}
	if *limit > 0 {
		in.Limit = aws.Int32(int32(*limit))
	}
	if *desc {
		in.ScanForward = aws.Bool(false)
	}

	ctx := context.Background()
	total := 0
	for {
		out, err := store.Query(ctx, in)
		if err != nil {
			return err
		}
		if err := printItems(out.Items); err != nil {
			return err
		}
		total += len(out.Items)
		if out.LastEvaluatedKey == nil || *limit > 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	fmt.Fprintf(os.Stderr, "%d item(s)\n", total)
	return nil
}

// pairList collects repeatable k=v flags.
type pairList []string

func (p *pairList) String() string {
	return strings.Join(*p, ",")
}

func (p *pairList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func placeholderValues(strs, nums pairList) (map[string]types.AttributeValue, error) {
	if len(strs) == 0 && len(nums) == 0 {
		return nil, nil
	}
	values := make(map[string]types.AttributeValue, len(strs)+len(nums))
	for _, kv := range strs {
		k, v, err := splitPair(kv)
		if err != nil {
			return nil, err
		}
		values[":"+k] = &types.AttributeValueMemberS{Value: v}
	}
	for _, kv := range nums {
		k, v, err := splitPair(kv)
		if err != nil {
			return nil, err
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("--num %s: %q is not a number", kv, v)
		}
		values[":"+k] = &types.AttributeValueMemberN{Value: v}
	}
	return values, nil
}

func placeholderNames(pairs pairList) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	names := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, err := splitPair(kv)
		if err != nil {
			return nil, err
		}
		names["#"+strings.TrimPrefix(k, "#")] = v
	}
	return names, nil
}

func splitPair(kv string) (string, string, error) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("expected name=value, got %q", kv)
	}
	return k, v, nil
}

func printItems(items []docstore.Item) error {
	for _, item := range items {
		var m map[string]any
		if err := attributevalue.UnmarshalMap(item, &m); err != nil {
			return err
		}
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	}
	return nil
}
