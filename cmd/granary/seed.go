package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/okvist/granary/timesheet"
)

func runSeed() error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	sf := addStoreFlags(fs)
	subject := fs.String("subject", "ada.lovelace", "subject the sample day belongs to")
	day := fs.String("day", time.Now().Format("2006-01-02"), "day to seed (YYYY-MM-DD)")

	fs.Usage = func() {
		fmt.Println(`granary seed - write sample grants, allocations and entries

Usage:
  granary seed [flags]

Flags:`)
		fs.PrintDefaults()
		fmt.Println(`
The sample day is fully pledged (60% + 40%) and fully worked (5h + 3h
against an 8h budget), so any further write to it trips a rule.`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger := newLogger()
	store, cfg, err := openStore(sf, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	repo, err := timesheet.NewRepository(store, timesheet.Rules{
		PercentLimit: cfg.Rules.PercentCap,
		DailyHours:   cfg.Rules.DailyHours,
	})
	if err != nil {
		return err
	}
	ctx := context.Background()

	grants := []timesheet.Grant{
		{ID: "G-0042", Name: "Coastal Resilience Modelling", Sponsor: "NSF", Active: true},
		{ID: "G-0117", Name: "Low-Power Sensor Networks", Sponsor: "DOE", Active: true},
		{ID: "G-0200", Name: "Archival Data Rescue", Sponsor: "Mellon", Active: false},
	}
	for _, g := range grants {
		if err := repo.PutGrant(ctx, g); err != nil {
			return err
		}
	}

	allocations := []timesheet.Allocation{
		{Subject: *subject, Day: *day, Grant: "G-0042", Percent: 60},
		{Subject: *subject, Day: *day, Grant: "G-0117", Percent: 40},
	}
	for _, a := range allocations {
		if err := repo.SetAllocation(ctx, a); err != nil {
			return err
		}
	}

	entries := []timesheet.Entry{
		{Subject: *subject, Day: *day, Grant: "G-0042", Hours: 5, Note: "surge model calibration"},
		{Subject: *subject, Day: *day, Grant: "G-0117", Hours: 3, Note: "mesh firmware review"},
	}
	for _, e := range entries {
		if _, err := repo.LogEntry(ctx, e); err != nil {
			return err
		}
	}

	fmt.Printf("seeded %d grants, %d allocations, %d entries for %s on %s\n",
		len(grants), len(allocations), len(entries), *subject, *day)
	return nil
}
