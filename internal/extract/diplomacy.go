package extract

import (
	"fmt"
	"slices"

	"git.home.luguber.info/inful/statewatch/internal/scan"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

const (
	relationBlockMax = 10_000
	relationsMax     = 500_000
)

// treatyFlags are the per-relation pact markers reported as treaties, keyed
// by the flag name in the blob.
var treatyFlags = []string{
	"commercial_pact",
	"research_agreement",
	"non_aggression_pact",
	"migration_treaty",
	"defensive_pact",
}

func (e *Extractor) diplomacy(snap *snapshot.Snapshot, playerID int64, playerBlock string, opts Tier2Options, caches *Caches) {
	e.relations(snap, playerBlock, caches)
	e.federation(snap, playerBlock)
	for _, id := range scan.IDList(playerBlock, "subjects") {
		snap.Diplomacy.Subjects = append(snap.Diplomacy.Subjects, caches.partyName(id))
	}
	e.wars(snap, playerID, opts, caches)
}

// relations walks the owner's relation entries. Rivalry, alliance and treaty
// attribution comes from explicit flags on each relation, and the known-party
// count from established communications.
func (e *Extractor) relations(snap *snapshot.Snapshot, playerBlock string, caches *Caches) {
	mgr, ok := scan.NestedBlock(playerBlock, "relations_manager", relationsMax)
	if !ok {
		return
	}
	window := playerBlock[mgr.Start:mgr.End]

	var known int64
	for _, span := range scan.KeyBlocks(window, "relation", relationBlockMax) {
		rel := window[span.Start:span.End]
		id, ok := scan.Int(rel, "country")
		if !ok {
			continue
		}
		name := caches.partyName(id)
		if v, _ := scan.Bool(rel, "communications"); v {
			known++
		}
		if v, _ := scan.Bool(rel, "is_rival"); v {
			snap.Diplomacy.Rivals = append(snap.Diplomacy.Rivals, name)
		}
		if v, _ := scan.Bool(rel, "alliance"); v {
			snap.Diplomacy.Allies = append(snap.Diplomacy.Allies, name)
		}
		for _, flag := range treatyFlags {
			if v, _ := scan.Bool(rel, flag); v {
				snap.Diplomacy.Treaties = append(snap.Diplomacy.Treaties,
					fmt.Sprintf("%s with %s", flag, name))
			}
		}
	}
	if known > 0 {
		snap.Diplomacy.KnownEmpires = &known
	}
	slices.Sort(snap.Diplomacy.Rivals)
	slices.Sort(snap.Diplomacy.Allies)
	slices.Sort(snap.Diplomacy.Treaties)
}

// federation resolves the owner's federation membership to its display name.
func (e *Extractor) federation(snap *snapshot.Snapshot, playerBlock string) {
	fedID, ok := scan.Int(playerBlock, "federation")
	if !ok || fedID < 0 {
		return
	}
	section, ok := scan.FindSection(e.blob, "federation")
	if !ok {
		return
	}
	for _, b := range scan.Blocks(e.blob, section, 1, relationsMax) {
		if b.ID != fedID {
			continue
		}
		name := e.resolveName(b.Span.Text(e.blob))
		snap.Diplomacy.Federation = &name
		return
	}
}

// wars keeps only conflicts the owner participates in. Battle locations ride
// along so a finished war can be summarized with where it was fought.
func (e *Extractor) wars(snap *snapshot.Snapshot, playerID int64, opts Tier2Options, caches *Caches) {
	section, ok := scan.FindSection(e.blob, "war")
	if !ok {
		return
	}
	var wars []snapshot.War
	for _, b := range scan.Blocks(e.blob, section, 1, warBlockMax) {
		window := b.Span.Text(e.blob)
		attackers := sideParties(window, "attackers")
		defenders := sideParties(window, "defenders")
		if !slices.Contains(attackers, playerID) && !slices.Contains(defenders, playerID) {
			continue
		}
		war := snapshot.War{Name: e.resolveName(window)}
		for _, id := range attackers {
			war.Attackers = append(war.Attackers, caches.partyName(id))
		}
		for _, id := range defenders {
			war.Defenders = append(war.Defenders, caches.partyName(id))
		}
		war.Battles = battleLocations(window)
		wars = append(wars, war)
	}
	capped, truncated := capList(wars, capLimit(opts.MaxWars))
	snap.Diplomacy.Wars = capped
	markTruncated(snap, "wars", truncated)
}

func sideParties(window, side string) []int64 {
	span, ok := scan.NestedBlock(window, side, relationBlockMax)
	if !ok {
		return nil
	}
	return scan.RepeatedInt(window[span.Start:span.End], "country")
}

func battleLocations(window string) []string {
	span, ok := scan.NestedBlock(window, "battles", relationsMax)
	if !ok {
		return nil
	}
	var out []string
	for _, sys := range scan.RepeatedInt(window[span.Start:span.End], "system") {
		out = append(out, fmt.Sprintf("system %d", sys))
	}
	return out
}
