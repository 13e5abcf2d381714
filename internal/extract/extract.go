// Package extract turns the raw state blob into typed records across three
// cost tiers: meta-only, lightweight status, and the full Snapshot. All
// scanning goes through the scan package; nothing here ever builds a parse
// tree of the whole blob.
package extract

import (
	"log/slog"

	"git.home.luguber.info/inful/statewatch/internal/scan"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

const (
	// MaxListLimit is the hard cap on any caller-provided list limit.
	MaxListLimit = 50

	defaultListLimit = 10

	// Per-record balanced-scan bounds. A malformed entry gives up at the
	// bound instead of scanning to end of file.
	countryBlockMax = 5_000_000
	entryWindow     = 3_000
	nameWindow      = 5_000
	fleetBlockMax   = 100_000
	planetBlockMax  = 30_000
	warBlockMax     = 200_000
)

// Extractor scans one loaded state blob. It is cheap to construct; the
// expensive id maps live in Caches and are built once per pass.
type Extractor struct {
	blob   string
	logger *slog.Logger
}

// New wraps a state blob. The blob is held by reference and must not be
// mutated while the extractor is in use.
func New(blob string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{blob: blob, logger: logger}
}

// Date returns the current simulation date from the blob header.
func (e *Extractor) Date() string {
	head := e.blob
	if len(head) > 2000 {
		head = head[:2000]
	}
	d, _ := scan.Str(head, "date")
	return d
}

// PlayerID returns the player's party id. The player block lives near the
// top of the blob; id 0 is the conventional default.
func (e *Extractor) PlayerID() int64 {
	section, ok := scan.FindSection(e.blob, "player")
	if !ok {
		return 0
	}
	id, ok := scan.Int(section.Text(e.blob), "country")
	if !ok {
		return 0
	}
	return id
}

// playerBlock returns the player's entry inside the country section.
// ok=false means the section or the entry is absent, which callers treat as
// an empty record.
func (e *Extractor) playerBlock(playerID int64) (string, bool) {
	section, ok := scan.FindSection(e.blob, "country")
	if !ok {
		return "", false
	}
	for _, b := range scan.Blocks(e.blob, section, 1, countryBlockMax) {
		if b.ID == playerID {
			return b.Span.Text(e.blob), true
		}
	}
	return "", false
}

// capLimit clamps a caller-provided list limit to [1, MaxListLimit], with a
// default for zero and negative values.
func capLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// capList truncates items to limit and reports whether anything was dropped.
// Input order is preserved, so deterministic input ordering gives
// deterministic truncation.
func capList[T any](items []T, limit int) ([]T, bool) {
	if len(items) <= limit {
		return items, false
	}
	return items[:limit], true
}

// Status is the tier-1 lightweight record: enough for a "who and where"
// answer without touching the expensive sections.
type Status struct {
	EmpireName  string   `json:"empire_name"`
	Date        string   `json:"date"`
	ColonyCount *int64   `json:"colony_count,omitempty"`
	FleetCount  *int64   `json:"fleet_count,omitempty"`
	EnergyNet   *float64 `json:"energy_net,omitempty"`
}

// Tier1 extracts the lightweight status record.
func (e *Extractor) Tier1() Status {
	playerID := e.PlayerID()
	st := Status{Date: e.Date()}
	block, ok := e.playerBlock(playerID)
	if !ok {
		e.logger.Warn("player country block not found", slog.Int64("player_id", playerID))
		return st
	}
	st.EmpireName = e.resolveName(block)
	if ids := ownedFleetIDs(block); ids != nil {
		n := int64(len(ids))
		st.FleetCount = &n
	}
	if n, ok := scan.Int(block, "num_colonies"); ok {
		st.ColonyCount = &n
	}
	if nets := e.economyNets(block); nets != nil {
		if v, ok := nets["energy"]; ok {
			st.EnergyNet = &v
		}
	}
	return st
}

// Tier2Options bound the list-valued parts of a full extraction.
type Tier2Options struct {
	MaxColonies int `yaml:"max_colonies"`
	MaxLeaders  int `yaml:"max_leaders"`
	MaxTechs    int `yaml:"max_techs"`
	MaxWars     int `yaml:"max_wars"`
}

// Tier2 runs the full extraction pass. Missing sections yield empty
// sub-records; the only hard failures happen before this point, at the
// container level.
func (e *Extractor) Tier2(opts Tier2Options) *snapshot.Snapshot {
	playerID := e.PlayerID()
	snap := &snapshot.Snapshot{
		OwnerID: playerID,
		Date:    e.Date(),
	}

	block, ok := e.playerBlock(playerID)
	if !ok {
		e.logger.Warn("player country block not found", slog.Int64("player_id", playerID))
		return snap
	}
	snap.OwnerName = e.resolveName(block)
	e.species(snap, block)

	caches := e.buildCaches(playerID, block)

	e.military(snap, block, caches)
	snap.Economy.Nets = e.economyNets(block)
	e.territory(snap, playerID, opts, caches)
	e.diplomacy(snap, playerID, block, opts, caches)
	e.leaders(snap, playerID, block, opts)
	e.technology(snap, block, opts)
	e.installations(snap, caches)
	e.megastructures(snap, playerID)
	snap.CrisisActive = e.crisisActive()
	snap.Eras = e.eras()
	snap.Policies = policies(block)
	snap.Edicts = edicts(block)

	return snap
}

// markTruncated records a truncated list on the snapshot so callers can
// distinguish "short list" from "cut list".
func markTruncated(snap *snapshot.Snapshot, name string, truncated bool) {
	if truncated {
		snap.TruncatedLists = append(snap.TruncatedLists, name)
	}
}
