package extract

import (
	"git.home.luguber.info/inful/statewatch/internal/scan"
	"git.home.luguber.info/inful/statewatch/internal/util/sets"
)

// Caches holds the id maps a full extraction pass needs more than once. It is
// built exactly once per pass and passed by reference; there is no process
// global and no lazy population.
type Caches struct {
	// OwnedGroups is the owner's declared unit-group membership set, read
	// from the fleets manager inside the owner's own block. Visibility lists
	// elsewhere in the blob must never be used for attribution.
	OwnedGroups sets.Set[int64]

	// UnitGroup maps a mobile unit id to the group it belongs to.
	UnitGroup map[int64]int64

	// PartyNames maps party id to a resolved printable name.
	PartyNames map[int64]string
}

func (e *Extractor) buildCaches(playerID int64, playerBlock string) *Caches {
	c := &Caches{
		OwnedGroups: sets.New(ownedFleetIDs(playerBlock)...),
		UnitGroup:   e.shipToFleet(),
		PartyNames:  e.countryNames(),
	}
	if _, ok := c.PartyNames[playerID]; !ok {
		c.PartyNames[playerID] = e.resolveName(playerBlock)
	}
	return c
}

// ownedFleetIDs reads the owner's declared fleet set. The country block also
// carries a plain fleets list of everything the owner merely has intel on;
// that list is deliberately ignored.
func ownedFleetIDs(playerBlock string) []int64 {
	mgr, ok := scan.NestedBlock(playerBlock, "fleets_manager", fleetBlockMax)
	if !ok {
		return nil
	}
	window := playerBlock[mgr.Start:mgr.End]
	owned, ok := scan.NestedBlock(window, "owned_fleets", fleetBlockMax)
	if !ok {
		return nil
	}
	return scan.RepeatedInt(window[owned.Start:owned.End], "fleet")
}

// shipToFleet maps every mobile unit to its group by scanning the ships
// section once. Only the head of each entry is inspected.
func (e *Extractor) shipToFleet() map[int64]int64 {
	out := make(map[int64]int64)
	section, ok := scan.FindSection(e.blob, "ships")
	if !ok {
		return out
	}
	for _, b := range scan.Blocks(e.blob, section, 1, fleetBlockMax) {
		window := b.Span.Text(e.blob)
		if len(window) > entryWindow {
			window = window[:entryWindow]
		}
		if fleet, ok := scan.Int(window, "fleet"); ok {
			out[b.ID] = fleet
		}
	}
	return out
}

// countryNames resolves a printable name for every party in the blob. Names
// only live near the head of each entry, so the per-entry window stays small
// even when entries are huge.
func (e *Extractor) countryNames() map[int64]string {
	out := make(map[int64]string)
	section, ok := scan.FindSection(e.blob, "country")
	if !ok {
		return out
	}
	for _, b := range scan.Blocks(e.blob, section, 1, countryBlockMax) {
		window := b.Span.Text(e.blob)
		if len(window) > nameWindow {
			window = window[:nameWindow]
		}
		out[b.ID] = e.resolveName(window)
	}
	return out
}

// partyName looks up a resolved name, falling back to a stable placeholder so
// resolution never fails.
func (c *Caches) partyName(id int64) string {
	if name, ok := c.PartyNames[id]; ok && name != "" {
		return name
	}
	return unknownParty(id)
}
