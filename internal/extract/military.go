package extract

import (
	"strings"

	"git.home.luguber.info/inful/statewatch/internal/scan"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

// military fills power and the owned military group count. Stations and
// civilian groups in the owned set do not count as fleets.
func (e *Extractor) military(snap *snapshot.Snapshot, playerBlock string, caches *Caches) {
	if power, ok := scan.Float(playerBlock, "military_power"); ok {
		snap.Military.Power = &power
	}

	section, ok := scan.FindSection(e.blob, "fleet")
	if !ok {
		if len(caches.OwnedGroups) > 0 {
			n := int64(len(caches.OwnedGroups))
			snap.Military.FleetCount = &n
		}
		return
	}

	var fleets int64
	var summedPower float64
	for _, b := range scan.Blocks(e.blob, section, 1, fleetBlockMax) {
		if !caches.OwnedGroups.Has(b.ID) {
			continue
		}
		window := b.Span.Text(e.blob)
		if station, _ := scan.Bool(window, "station"); station {
			continue
		}
		if civilian, _ := scan.Bool(window, "civilian"); civilian {
			continue
		}
		fleets++
		if mp, ok := scan.Float(window, "military_power"); ok {
			summedPower += mp
		}
	}
	snap.Military.FleetCount = &fleets
	if snap.Military.Power == nil && summedPower > 0 {
		snap.Military.Power = &summedPower
	}
}

// installations attributes defense platforms to the owner through the full
// ownership chain: platform -> station unit id -> unit's group -> owner's
// declared group set. A platform whose chain breaks at any hop is skipped.
func (e *Extractor) installations(snap *snapshot.Snapshot, caches *Caches) {
	section, ok := scan.FindSection(e.blob, "starbase_mgr")
	if !ok {
		return
	}
	mgr := section.Text(e.blob)
	inner, ok := scan.NestedBlock(mgr, "starbases", section.Len())
	if !ok {
		return
	}
	innerSpan := scan.Span{Start: section.Start + inner.Start, End: section.Start + inner.End}
	var systems int64
	for _, b := range scan.Blocks(e.blob, innerSpan, 2, fleetBlockMax) {
		window := b.Span.Text(e.blob)
		if len(window) > entryWindow {
			window = window[:entryWindow]
		}
		station, ok := scan.Int(window, "station")
		if !ok {
			continue
		}
		group, ok := caches.UnitGroup[station]
		if !ok || !caches.OwnedGroups.Has(group) {
			continue
		}
		level, _ := scan.Str(window, "level")
		inst := snapshot.Installation{ID: b.ID, Level: level}
		if sys, ok := scan.Int(window, "system"); ok {
			inst.SystemID = sys
		}
		snap.Installations = append(snap.Installations, inst)
		if !isOrbitalRing(level) {
			systems++
		}
	}
	if len(snap.Installations) > 0 {
		snap.Territory.SystemCount = &systems
	}
}

func isOrbitalRing(level string) bool {
	return strings.Contains(strings.ToLower(level), "orbital_ring")
}
