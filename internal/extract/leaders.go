package extract

import (
	"sort"
	"strings"

	"git.home.luguber.info/inful/statewatch/internal/scan"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

const leaderBlockMax = 20_000

// leaders collects the owner's roster, sorted by id for stable output. Pool
// entries carry the sentinel recruitment date and are kept: filtering them is
// the event detector's job, not the extractor's.
func (e *Extractor) leaders(snap *snapshot.Snapshot, playerID int64, playerBlock string, opts Tier2Options) {
	section, ok := scan.FindSection(e.blob, "leaders")
	if !ok {
		return
	}
	rulerID, hasRuler := scan.Int(playerBlock, "ruler")

	var roster []snapshot.Leader
	for _, b := range scan.Blocks(e.blob, section, 1, leaderBlockMax) {
		window := b.Span.Text(e.blob)
		country, ok := scan.Int(window, "country")
		if !ok || country != playerID {
			continue
		}
		class, ok := scan.Str(window, "class")
		if !ok {
			continue
		}
		l := snapshot.Leader{
			ID:    b.ID,
			Name:  leaderName(window),
			Class: class,
			Ruler: hasRuler && b.ID == rulerID,
		}
		if level, ok := scan.Int(window, "level"); ok {
			l.Level = &level
		}
		l.RecruitmentDate = recruitmentDate(window)
		if d, ok := scan.Str(window, "death_date"); ok {
			l.DeathDate = d
		}
		roster = append(roster, l)
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })

	capped, truncated := capList(roster, capLimit(opts.MaxLeaders))
	snap.Leaders = capped
	markTruncated(snap, "leaders", truncated)
}

// recruitmentDate tries the recruitment field first, then the pre-ruler date
// a sitting ruler carries, then the plain date.
func recruitmentDate(window string) string {
	for _, key := range []string{"recruitment_date", "pre_ruler_date", "date"} {
		if d, ok := scan.Str(window, key); ok {
			return d
		}
	}
	return ""
}

// leaderName digs the printable name out of the nested full-names block.
// Character keys look like "HUMAN1_CHR_Miriam"; the literal name is the part
// after the character marker.
func leaderName(window string) string {
	span, ok := scan.NestedBlock(window, "name", templateBlockMax)
	if !ok {
		if name, ok := scan.Str(window, "name"); ok {
			return name
		}
		return "Unknown"
	}
	nameBlock := window[span.Start:span.End]
	for _, key := range scan.RepeatedStr(nameBlock, "key") {
		if i := strings.Index(key, "_CHR_"); i >= 0 {
			return key[i+len("_CHR_"):]
		}
		if strings.HasPrefix(key, "NAME_") {
			return strings.ReplaceAll(key[len("NAME_"):], "_", " ")
		}
	}
	for _, key := range scan.RepeatedStr(nameBlock, "key") {
		if !strings.Contains(key, "%") && !isTemplateVarLabel(key) {
			return cleanupComponent(key)
		}
	}
	return "Unknown"
}
