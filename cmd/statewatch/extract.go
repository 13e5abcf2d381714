package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/statewatch/internal/container"
	"git.home.luguber.info/inful/statewatch/internal/extract"
	"git.home.luguber.info/inful/statewatch/internal/ingest"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

// runExtract backs both interactive use and the daemon's isolated worker,
// which invokes this binary with --format json.
func runExtract(path string, tier int, format string, opts extract.Tier2Options, logger *slog.Logger) error {
	runner := &ingest.LocalRunner{Logger: logger, Opts: opts}
	ctx := context.Background()

	switch tier {
	case 1:
		st, err := runner.Tier1(ctx, path)
		if err != nil {
			return err
		}
		if format == "json" {
			return json.NewEncoder(os.Stdout).Encode(st)
		}
		printStatus(st)
	case 2:
		snap, err := runner.Tier2(ctx, path)
		if err != nil {
			return err
		}
		if format == "json" {
			return json.NewEncoder(os.Stdout).Encode(snap)
		}
		printSnapshot(snap)
	default:
		return fmt.Errorf("unsupported tier %d", tier)
	}
	return nil
}

func runSearch(path, query string, logger *slog.Logger) error {
	c, err := container.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()
	blob, err := c.ReadState()
	if err != nil {
		return fmt.Errorf("read state blob: %w", err)
	}

	result, err := extract.New(blob, logger).Search(query, 0, 0)
	if err != nil {
		return err
	}

	fmt.Printf("query %q: %d match(es)", result.Query, result.TotalFound)
	if result.Truncated {
		fmt.Print(" (truncated)")
	}
	fmt.Println()
	for _, m := range result.Matches {
		fmt.Printf("--- offset %d ---\n%s\n", m.Position, m.Context)
	}
	return nil
}

func printStatus(st extract.Status) {
	fmt.Printf("%s (%s)\n", st.EmpireName, st.Date)
	if st.ColonyCount != nil {
		fmt.Printf("  colonies: %d\n", *st.ColonyCount)
	}
	if st.FleetCount != nil {
		fmt.Printf("  fleets:   %d\n", *st.FleetCount)
	}
	if st.EnergyNet != nil {
		fmt.Printf("  energy:   %+.1f\n", *st.EnergyNet)
	}
}

func printSnapshot(snap *snapshot.Snapshot) {
	fmt.Printf("%s (%s)\n", snap.OwnerName, snap.Date)
	if snap.Military.Power != nil {
		fmt.Printf("  military power: %.1f\n", *snap.Military.Power)
	}
	if snap.Military.FleetCount != nil {
		fmt.Printf("  fleets:         %d\n", *snap.Military.FleetCount)
	}
	if snap.Territory.ColonyCount != nil {
		fmt.Printf("  colonies:       %d\n", *snap.Territory.ColonyCount)
	}
	if snap.Technology.Count != nil {
		fmt.Printf("  technologies:   %d\n", *snap.Technology.Count)
	}
	for name, net := range snap.Economy.Nets {
		fmt.Printf("  %-14s %+.1f\n", name+":", net)
	}
	for _, war := range snap.Diplomacy.Wars {
		fmt.Printf("  at war: %s\n", war.Name)
	}
	if len(snap.TruncatedLists) > 0 {
		fmt.Printf("  truncated lists: %v\n", snap.TruncatedLists)
	}
}
