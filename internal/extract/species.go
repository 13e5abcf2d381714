package extract

import (
	"strings"

	"git.home.luguber.info/inful/statewatch/internal/scan"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

const speciesBlockMax = 6_000

// species resolves the owner's founder species from the species registry.
// Entries without a class are empty placeholders and are skipped.
func (e *Extractor) species(snap *snapshot.Snapshot, block string) {
	ref, ok := scan.Int(block, "founder_species_ref")
	if !ok {
		return
	}
	section, ok := scan.FindSection(e.blob, "species_db")
	if !ok {
		return
	}
	for _, b := range scan.Blocks(e.blob, section, 1, speciesBlockMax) {
		if b.ID != ref {
			continue
		}
		window := b.Span.Text(e.blob)
		class, ok := scan.StrOrBare(window, "class")
		if !ok {
			return
		}
		snap.Species = &snapshot.Species{
			Name:  speciesName(window),
			Class: class,
		}
		return
	}
}

// speciesName reads the name block's key and normalizes localization-key
// forms like "SPEC_Human".
func speciesName(window string) string {
	key, ok := scan.Str(window, "name")
	if !ok {
		span, found := scan.NestedBlock(window, "name", templateBlockMax)
		if !found {
			return "Unknown"
		}
		key, ok = scan.Str(window[span.Start:span.End], "key")
		if !ok {
			return "Unknown"
		}
	}
	if clean := cleanupComponent(key); clean != "" {
		if strings.ToLower(clean) == clean {
			return titleCaser.String(clean)
		}
		return clean
	}
	return "Unknown"
}
