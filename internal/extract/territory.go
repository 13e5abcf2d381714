package extract

import (
	"git.home.luguber.info/inful/statewatch/internal/scan"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

// territory collects the owner's colonies from the planets section. Entries
// sit one level deeper than usual, inside a wrapping planet block.
func (e *Extractor) territory(snap *snapshot.Snapshot, playerID int64, opts Tier2Options, caches *Caches) {
	section, ok := scan.FindSection(e.blob, "planets")
	if !ok {
		return
	}
	inner, ok := scan.NestedBlock(section.Text(e.blob), "planet", section.Len())
	if !ok {
		return
	}
	innerSpan := scan.Span{Start: section.Start + inner.Start, End: section.Start + inner.End}

	var colonies []snapshot.Colony
	for _, b := range scan.Blocks(e.blob, innerSpan, 2, planetBlockMax) {
		window := b.Span.Text(e.blob)
		if len(window) > entryWindow {
			window = window[:entryWindow]
		}
		owner, ok := scan.Int(window, "owner")
		if !ok || owner != playerID {
			continue
		}
		colonies = append(colonies, snapshot.Colony{PlanetID: b.ID, Name: e.resolveName(window)})
	}
	count := int64(len(colonies))
	snap.Territory.ColonyCount = &count

	capped, truncated := capList(colonies, capLimit(opts.MaxColonies))
	snap.Territory.Colonies = capped
	markTruncated(snap, "colonies", truncated)
}
