package extract

import (
	"sort"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/statewatch/internal/scan"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

const (
	techStatusMax = 500_000
	policyMax     = 100_000
	megaBlockMax  = 5_000
	crisisWindow  = 1_500
)

// crisisCountryTypes mark a party as a galactic crisis faction. Space fauna
// share the non-default shape but are not a crisis.
var crisisCountryTypes = map[string]bool{
	"swarm":               true,
	"extradimensional":    true,
	"extradimensional_2":  true,
	"extradimensional_3":  true,
	"ai_empire":           true,
	"awakened_synthetics": true,
}

// technology reads the researched-tech list out of the owner's tech status.
func (e *Extractor) technology(snap *snapshot.Snapshot, playerBlock string, opts Tier2Options) {
	span, ok := scan.NestedBlock(playerBlock, "tech_status", techStatusMax)
	if !ok {
		return
	}
	techs := scan.RepeatedStr(playerBlock[span.Start:span.End], "technology")
	count := int64(len(techs))
	snap.Technology.Count = &count
	sort.Strings(techs)

	capped, truncated := capList(techs, capLimit(opts.MaxTechs))
	snap.Technology.Researched = capped
	markTruncated(snap, "technologies", truncated)
}

// policies pairs each active policy with its selected option.
func policies(playerBlock string) map[string]string {
	span, ok := scan.NestedBlock(playerBlock, "active_policies", policyMax)
	if !ok {
		return nil
	}
	window := playerBlock[span.Start:span.End]
	names := scan.RepeatedStr(window, "policy")
	selected := scan.RepeatedStr(window, "selected")
	if len(names) == 0 || len(names) != len(selected) {
		return nil
	}
	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = selected[i]
	}
	return out
}

// edicts lists the active edict names, sorted.
func edicts(playerBlock string) []string {
	span, ok := scan.NestedBlock(playerBlock, "edicts", policyMax)
	if !ok {
		return nil
	}
	out := scan.RepeatedStr(playerBlock[span.Start:span.End], "edict")
	sort.Strings(out)
	return out
}

// megastructures keeps the owner's structures. Construction progress is
// encoded as a trailing stage number on the type name.
func (e *Extractor) megastructures(snap *snapshot.Snapshot, playerID int64) {
	section, ok := scan.FindSection(e.blob, "megastructures")
	if !ok {
		return
	}
	for _, b := range scan.Blocks(e.blob, section, 1, megaBlockMax) {
		window := b.Span.Text(e.blob)
		owner, ok := scan.Int(window, "owner")
		if !ok || owner != playerID {
			continue
		}
		typ, ok := scan.Str(window, "type")
		if !ok {
			continue
		}
		base, stage := splitStage(typ)
		snap.Megastructures = append(snap.Megastructures, snapshot.Megastructure{
			ID: b.ID, Type: base, Stage: stage,
		})
	}
}

// splitStage separates "dyson_sphere_4" into ("dyson_sphere", 4). A type
// without a trailing stage number is stage 0.
func splitStage(typ string) (string, int) {
	i := strings.LastIndexByte(typ, '_')
	if i < 0 || i == len(typ)-1 {
		return typ, 0
	}
	stage, err := strconv.Atoi(typ[i+1:])
	if err != nil {
		return typ, 0
	}
	return typ[:i], stage
}

// crisisActive scans the head of every party entry for a crisis faction type.
func (e *Extractor) crisisActive() bool {
	section, ok := scan.FindSection(e.blob, "country")
	if !ok {
		return false
	}
	for _, b := range scan.Blocks(e.blob, section, 1, countryBlockMax) {
		window := b.Span.Text(e.blob)
		if len(window) > crisisWindow {
			window = window[:crisisWindow]
		}
		if typ, ok := scan.Str(window, "country_type"); ok && crisisCountryTypes[typ] {
			return true
		}
	}
	return false
}

// eras reads the calendar thresholds out of the galaxy setup. Older blobs
// store them as offsets from the campaign start year.
func (e *Extractor) eras() snapshot.Eras {
	section, ok := scan.FindSection(e.blob, "galaxy")
	if !ok {
		return snapshot.Eras{}
	}
	window := section.Text(e.blob)
	return snapshot.Eras{
		MidGameYear: eraYear(window, "mid_game_start"),
		EndGameYear: eraYear(window, "end_game_start"),
	}
}

const campaignStartYear = 2200

func eraYear(window, key string) int {
	v, ok := scan.Int(window, key)
	if !ok {
		return 0
	}
	if v < 1000 {
		return campaignStartYear + int(v)
	}
	return int(v)
}
