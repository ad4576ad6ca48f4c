// granary is a local grant timesheet: it tracks funding grants, the
// share of each day pledged to them, and the hours actually charged,
// in an embedded document store on disk.
//
// # Commands
//
//	granary migrate   Run pending data migrations
//	granary seed      Write sample grants, allocations and entries
//	granary query     Run a key-condition query against the store
//	granary dump      Scan the table or an index
//
// # Quick Start
//
// Seed a demo store and look at a day:
//
//	granary seed --mem
//	granary query --key 'pk = :pk AND begins_with(sk, :d)' \
//	  --str pk=ada.lovelace --str d=2026-08-25#
//
// Configuration is read from granary.yaml, found by walking up from
// the working directory; a .env next to the binary is loaded first.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/okvist/granary/docstore"
	"github.com/okvist/granary/schema"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	// Remove the subcommand from args so flag parsing works
	os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

	var err error
	switch cmd {
	case "migrate":
		err = runMigrate()
	case "seed":
		err = runSeed()
	case "query":
		err = runQuery()
	case "dump":
		err = runDump()
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Printf("granary version %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "granary: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "granary %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`granary - local grant timesheet

Usage:
  granary <command> [flags]

Commands:
  migrate   Run pending data migrations
  seed      Write sample grants, allocations and entries
  query     Run a key-condition query against the store
  dump      Scan the table or an index

Examples:
  # Seed an in-memory store and read it back:
  granary seed --mem

  # Everything one subject pledged and worked on one day:
  granary query --key 'pk = :pk AND begins_with(sk, :d)' \
    --str pk=ada.lovelace --str d=2026-08-25#

  # Everything charging one grant, via the grant index:
  granary query --index grant-index --key 'grant = :g' --str g=G-0042

Configuration (optional):
  Create granary.yaml anywhere up the directory tree:

    dataDir: .granary     # store directory ("" = in-memory)
    rules:
      percentCap: 100     # max summed allocation pct per day
      dailyHours: 8       # max summed entry hours per day

Run 'granary <command> --help' for more information on a command.`)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("GRANARY_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// storeFlags are shared by every subcommand that opens the store.
type storeFlags struct {
	data   *string
	mem    *bool
	config *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		data:   fs.String("data", "", "store directory (default from granary.yaml)"),
		mem:    fs.Bool("mem", false, "run on an in-memory store"),
		config: fs.String("config", "", "config file (default: walk up for granary.yaml)"),
	}
}

func openStore(f storeFlags, logger *slog.Logger) (*docstore.Store, schema.Config, error) {
	var cfg schema.Config
	var err error
	if *f.config != "" {
		cfg, err = schema.LoadFile(*f.config)
	} else {
		cfg, err = schema.Load()
	}
	if err != nil {
		return nil, schema.Config{}, err
	}
	if env := os.Getenv("GRANARY_DATA"); env != "" {
		cfg.DataDir = env
	}
	if *f.data != "" {
		cfg.DataDir = *f.data
	}
	def, err := cfg.Definition()
	if err != nil {
		return nil, schema.Config{}, err
	}
	store, err := docstore.Open(docstore.Options{
		Path:     cfg.DataDir,
		InMemory: *f.mem,
		Logger:   logger,
	}, def)
	if err != nil {
		return nil, schema.Config{}, err
	}
	return store, cfg, nil
}
