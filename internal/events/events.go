// Package events turns two EventState projections into a compact, ordered
// list of human-meaningful change records. Compute is a pure function:
// identical inputs always yield an identical, identically-ordered list, and
// either side may be partially populated without error.
package events

import (
	"fmt"
	"math"
	"sort"

	"git.home.luguber.info/inful/statewatch/internal/snapshot"
	"git.home.luguber.info/inful/statewatch/internal/util/sets"
)

// Event is one detected change between two snapshots.
type Event struct {
	Type           string         `json:"type"`
	Summary        string         `json:"summary"`
	Payload        map[string]any `json:"payload,omitempty"`
	FromSnapshotID int64          `json:"from_snapshot_id"`
	ToSnapshotID   int64          `json:"to_snapshot_id"`
}

// Thresholds are the noise-suppression constants for numeric deltas. They are
// empirically tuned policy, not invariants; callers may override via config.
type Thresholds struct {
	MilitaryRelative float64            `yaml:"military_relative"`
	MilitaryFloor    float64            `yaml:"military_floor"`
	MilitaryLarge    float64            `yaml:"military_large"`
	FleetDelta       int64              `yaml:"fleet_delta"`
	ResourceRelative float64            `yaml:"resource_relative"`
	ResourceFloor    float64            `yaml:"resource_floor"`
	ResourceFloors   map[string]float64 `yaml:"resource_floors"`
	SetCap           int                `yaml:"set_cap"`
	TechCap          int                `yaml:"tech_cap"`
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MilitaryRelative: 0.15,
		MilitaryFloor:    2000,
		MilitaryLarge:    10000,
		FleetDelta:       2,
		ResourceRelative: 0.25,
		ResourceFloor:    5.0,
		ResourceFloors:   map[string]float64{"energy": 20.0, "minerals": 20.0},
		SetCap:           5,
		TechCap:          10,
	}
}

func (t Thresholds) resourceFloor(name string) float64 {
	if f, ok := t.ResourceFloors[name]; ok {
		return f
	}
	return t.ResourceFloor
}

// Detector computes events with a fixed threshold policy.
type Detector struct {
	thresholds Thresholds
}

// New returns a detector. Zero-valued thresholds fall back to the defaults.
func New(t Thresholds) *Detector {
	def := DefaultThresholds()
	if t.MilitaryRelative == 0 {
		t.MilitaryRelative = def.MilitaryRelative
	}
	if t.MilitaryFloor == 0 {
		t.MilitaryFloor = def.MilitaryFloor
	}
	if t.MilitaryLarge == 0 {
		t.MilitaryLarge = def.MilitaryLarge
	}
	if t.FleetDelta == 0 {
		t.FleetDelta = def.FleetDelta
	}
	if t.ResourceRelative == 0 {
		t.ResourceRelative = def.ResourceRelative
	}
	if t.ResourceFloor == 0 {
		t.ResourceFloor = def.ResourceFloor
	}
	if t.ResourceFloors == nil {
		t.ResourceFloors = def.ResourceFloors
	}
	if t.SetCap == 0 {
		t.SetCap = def.SetCap
	}
	if t.TechCap == 0 {
		t.TechCap = def.TechCap
	}
	return &Detector{thresholds: t}
}

// Compute diffs prev against curr. fromID must be smaller than toID; the
// caller assigns snapshot row ids. The rule order below is fixed, which is
// what makes the output ordering deterministic.
func (d *Detector) Compute(prev, curr snapshot.EventState, fromID, toID int64) []Event {
	c := collector{from: fromID, to: toID}
	th := d.thresholds

	d.militaryPower(&c, prev, curr)
	d.countDelta(&c, "fleet_count_change", "fleets", prev.FleetCount, curr.FleetCount, th.FleetDelta)
	d.countDelta(&c, "colony_count_change", "colonies", prev.ColonyCount, curr.ColonyCount, 1)
	d.countDelta(&c, "system_count_change", "systems", prev.SystemCount, curr.SystemCount, 1)
	d.technology(&c, prev, curr)
	d.resourceNets(&c, prev, curr)
	d.setDiff(&c, prev.Wars, curr.Wars, "war_started", "war_ended", "war",
		func(e *Event) {
			if e.Type == "war_ended" {
				if battles := prev.WarBattles[e.Payload["war"].(string)]; len(battles) > 0 {
					e.Payload["battles"] = battles
				}
			}
		})
	d.setDiff(&c, prev.Allies, curr.Allies, "alliance_formed", "alliance_broken", "party", nil)
	d.setDiff(&c, prev.Rivals, curr.Rivals, "rivalry_declared", "rivalry_ended", "party", nil)
	d.setDiff(&c, prev.Treaties, curr.Treaties, "treaty_signed", "treaty_ended", "treaty", nil)
	d.federation(&c, prev, curr)
	diedThisDiff := d.roster(&c, prev, curr)
	d.ruler(&c, prev, curr, diedThisDiff)
	d.policies(&c, prev, curr)
	d.setDiff(&c, prev.Edicts, curr.Edicts, "edict_enacted", "edict_expired", "edict", nil)
	d.megastructures(&c, prev, curr)
	d.crisis(&c, prev, curr)
	d.milestones(&c, prev, curr)

	return c.events
}

type collector struct {
	from, to int64
	events   []Event
}

func (c *collector) add(typ, summary string, payload map[string]any) {
	c.events = append(c.events, Event{
		Type:           typ,
		Summary:        summary,
		Payload:        payload,
		FromSnapshotID: c.from,
		ToSnapshotID:   c.to,
	})
}

func (d *Detector) militaryPower(c *collector, prev, curr snapshot.EventState) {
	if prev.MilitaryPower == nil || curr.MilitaryPower == nil {
		return
	}
	p, q := *prev.MilitaryPower, *curr.MilitaryPower
	delta := q - p
	if delta == 0 {
		return
	}
	pct := 0.0
	if p != 0 {
		pct = delta / p
	}
	th := d.thresholds
	crossed := (math.Abs(pct) >= th.MilitaryRelative && math.Abs(delta) >= th.MilitaryFloor) ||
		math.Abs(delta) >= th.MilitaryLarge
	if !crossed {
		return
	}
	dir := "rose"
	if delta < 0 {
		dir = "fell"
	}
	c.add("military_power_change",
		fmt.Sprintf("Military power %s from %.0f to %.0f", dir, p, q),
		map[string]any{"previous": p, "current": q, "delta": delta})
}

func (d *Detector) countDelta(c *collector, typ, noun string, prev, curr *int64, minDelta int64) {
	if prev == nil || curr == nil {
		return
	}
	delta := *curr - *prev
	if delta == 0 || absInt(delta) < minDelta {
		return
	}
	verb := "gained"
	if delta < 0 {
		verb = "lost"
	}
	c.add(typ,
		fmt.Sprintf("Empire %s %d %s (%d -> %d)", verb, absInt(delta), noun, *prev, *curr),
		map[string]any{"previous": *prev, "current": *curr, "delta": delta})
}

func (d *Detector) technology(c *collector, prev, curr snapshot.EventState) {
	if prev.TechCount == nil || curr.TechCount == nil || *curr.TechCount <= *prev.TechCount {
		return
	}
	added, _ := sets.Diff(prev.Techs, curr.Techs)
	if len(added) > d.thresholds.TechCap {
		added = added[:d.thresholds.TechCap]
	}
	payload := map[string]any{
		"previous": *prev.TechCount,
		"current":  *curr.TechCount,
		"delta":    *curr.TechCount - *prev.TechCount,
	}
	if len(added) > 0 {
		payload["technologies"] = added
	}
	c.add("technology_progress",
		fmt.Sprintf("Researched %d new technologies", *curr.TechCount-*prev.TechCount),
		payload)
}

// resourceNets emits a sign change regardless of magnitude; otherwise the
// delta must clear max(floor, |prev|*relative).
func (d *Detector) resourceNets(c *collector, prev, curr snapshot.EventState) {
	names := make([]string, 0, len(curr.Nets))
	for name := range curr.Nets {
		if _, ok := prev.Nets[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	th := d.thresholds
	for _, name := range names {
		p, q := prev.Nets[name], curr.Nets[name]
		delta := q - p
		if delta == 0 {
			continue
		}
		signFlip := (p > 0 && q < 0) || (p < 0 && q > 0)
		threshold := math.Max(th.resourceFloor(name), math.Abs(p)*th.ResourceRelative)
		if !signFlip && math.Abs(delta) < threshold {
			continue
		}
		summary := fmt.Sprintf("Net %s changed from %.1f to %.1f", name, p, q)
		if signFlip {
			if q < 0 {
				summary = fmt.Sprintf("Net %s flipped into deficit (%.1f -> %.1f)", name, p, q)
			} else {
				summary = fmt.Sprintf("Net %s recovered into surplus (%.1f -> %.1f)", name, p, q)
			}
		}
		c.add("resource_net_change", summary, map[string]any{
			"resource": name, "previous": p, "current": q, "delta": delta, "sign_change": signFlip,
		})
	}
}

// setDiff reports added then removed members, each sorted and capped.
func (d *Detector) setDiff(c *collector, prev, curr sets.Set[string], addType, removeType, key string, enrich func(*Event)) {
	added, removed := sets.Diff(prev, curr)
	limit := d.thresholds.SetCap
	if len(added) > limit {
		added = added[:limit]
	}
	if len(removed) > limit {
		removed = removed[:limit]
	}
	emit := func(typ, verb, name string) {
		e := Event{
			Type:           typ,
			Summary:        fmt.Sprintf("%s: %s", verb, name),
			Payload:        map[string]any{key: name},
			FromSnapshotID: c.from,
			ToSnapshotID:   c.to,
		}
		if enrich != nil {
			enrich(&e)
		}
		c.events = append(c.events, e)
	}
	for _, name := range added {
		emit(addType, summaryVerb(addType), name)
	}
	for _, name := range removed {
		emit(removeType, summaryVerb(removeType), name)
	}
}

func summaryVerb(typ string) string {
	switch typ {
	case "war_started":
		return "War started"
	case "war_ended":
		return "War ended"
	case "alliance_formed":
		return "Alliance formed"
	case "alliance_broken":
		return "Alliance broken"
	case "rivalry_declared":
		return "Rivalry declared"
	case "rivalry_ended":
		return "Rivalry ended"
	case "treaty_signed":
		return "Treaty signed"
	case "treaty_ended":
		return "Treaty ended"
	case "edict_enacted":
		return "Edict enacted"
	case "edict_expired":
		return "Edict expired"
	}
	return typ
}

func (d *Detector) federation(c *collector, prev, curr snapshot.EventState) {
	p, q := deref(prev.Federation), deref(curr.Federation)
	switch {
	case p == q:
	case p == "":
		c.add("federation_joined", fmt.Sprintf("Joined federation: %s", q),
			map[string]any{"federation": q})
	case q == "":
		c.add("federation_left", fmt.Sprintf("Left federation: %s", p),
			map[string]any{"federation": p})
	default:
		c.add("federation_joined", fmt.Sprintf("Joined federation: %s", q),
			map[string]any{"federation": q, "previous": p})
	}
}

// roster reports hires, removals and deaths, skipping synthetic pool entries.
// Returns the names of leaders that died in this diff so ruler_changed can be
// suppressed when the succession was caused by a death.
func (d *Detector) roster(c *collector, prev, curr snapshot.EventState) sets.Set[string] {
	died := sets.New[string]()
	ids := make([]int64, 0, len(prev.Leaders)+len(curr.Leaders))
	seen := sets.New[int64]()
	for id := range prev.Leaders {
		ids = append(ids, id)
		seen.Add(id)
	}
	for id := range curr.Leaders {
		if !seen.Has(id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p, inPrev := prev.Leaders[id]
		q, inCurr := curr.Leaders[id]
		switch {
		case inPrev && inCurr:
			if p.DeathDate == "" && q.DeathDate != "" {
				died.Add(q.Name)
				c.add("leader_died",
					fmt.Sprintf("%s (%s) died on %s", q.Name, q.Class, q.DeathDate),
					map[string]any{"leader_id": id, "name": q.Name, "class": q.Class, "death_date": q.DeathDate})
			}
		case inCurr:
			if q.RecruitmentDate == snapshot.PoolSentinelDate {
				continue
			}
			c.add("leader_hired",
				fmt.Sprintf("Hired %s (%s)", q.Name, q.Class),
				map[string]any{"leader_id": id, "name": q.Name, "class": q.Class})
		case inPrev:
			if p.RecruitmentDate == snapshot.PoolSentinelDate {
				continue
			}
			if p.DeathDate != "" {
				died.Add(p.Name)
				c.add("leader_died",
					fmt.Sprintf("%s (%s) died on %s", p.Name, p.Class, p.DeathDate),
					map[string]any{"leader_id": id, "name": p.Name, "class": p.Class, "death_date": p.DeathDate})
				continue
			}
			c.add("leader_removed",
				fmt.Sprintf("%s (%s) left service", p.Name, p.Class),
				map[string]any{"leader_id": id, "name": p.Name, "class": p.Class})
		}
	}
	return died
}

func (d *Detector) ruler(c *collector, prev, curr snapshot.EventState, died sets.Set[string]) {
	p, q := deref(prev.Ruler), deref(curr.Ruler)
	if p == "" || q == "" || p == q {
		return
	}
	// Succession after a death is already reported by leader_died.
	if died.Has(p) {
		return
	}
	c.add("ruler_changed",
		fmt.Sprintf("Ruler changed from %s to %s", p, q),
		map[string]any{"previous": p, "current": q})
}

func (d *Detector) policies(c *collector, prev, curr snapshot.EventState) {
	names := make([]string, 0, len(curr.Policies))
	for name := range curr.Policies {
		if old, ok := prev.Policies[name]; ok && old != curr.Policies[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) > d.thresholds.SetCap {
		names = names[:d.thresholds.SetCap]
	}
	for _, name := range names {
		c.add("policy_changed",
			fmt.Sprintf("Policy %s changed from %s to %s", name, prev.Policies[name], curr.Policies[name]),
			map[string]any{"policy": name, "previous": prev.Policies[name], "current": curr.Policies[name]})
	}
}

func (d *Detector) megastructures(c *collector, prev, curr snapshot.EventState) {
	ids := make([]int64, 0, len(curr.Megas))
	for id := range curr.Megas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		q := curr.Megas[id]
		p, ok := prev.Megas[id]
		switch {
		case !ok:
			c.add("megastructure_started",
				fmt.Sprintf("Megastructure construction started: %s", q.Type),
				map[string]any{"megastructure_id": id, "type": q.Type, "stage": q.Stage})
		case q.Stage > p.Stage:
			c.add("megastructure_upgraded",
				fmt.Sprintf("Megastructure %s reached stage %d", q.Type, q.Stage),
				map[string]any{"megastructure_id": id, "type": q.Type, "previous_stage": p.Stage, "stage": q.Stage})
		}
	}
}

func (d *Detector) crisis(c *collector, prev, curr snapshot.EventState) {
	switch {
	case !prev.CrisisActive && curr.CrisisActive:
		c.add("crisis_started", "A galactic crisis has begun", nil)
	case prev.CrisisActive && !curr.CrisisActive:
		c.add("crisis_defeated", "The galactic crisis has been defeated", nil)
	}
}

// milestones compares only the before/after side of each era threshold.
func (d *Detector) milestones(c *collector, prev, curr snapshot.EventState) {
	if prev.Year == 0 || curr.Year == 0 {
		return
	}
	type era struct {
		year int
		name string
	}
	eras := []era{
		{pickYear(curr.MidGameYear, prev.MidGameYear), "mid_game"},
		{pickYear(curr.EndGameYear, prev.EndGameYear), "end_game"},
	}
	for _, e := range eras {
		if e.year == 0 {
			continue
		}
		if prev.Year < e.year && curr.Year >= e.year {
			c.add("milestone_reached",
				fmt.Sprintf("Entered the %s era in %d", e.name, curr.Year),
				map[string]any{"milestone": e.name, "year": e.year})
		}
	}
}

func pickYear(curr, prev int) int {
	if curr != 0 {
		return curr
	}
	return prev
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
