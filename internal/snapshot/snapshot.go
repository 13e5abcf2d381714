// Package snapshot defines the structured projection of one point in
// simulated time, the lossy EventState the detector compares, and the
// content fingerprint used to deduplicate cosmetically identical re-saves.
package snapshot

import (
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/statewatch/internal/util/sets"
)

// Snapshot is immutable once constructed. It is replaced wholesale on each
// successful full extraction, never mutated in place.
type Snapshot struct {
	OwnerID   int64     `json:"owner_id"`
	OwnerName string    `json:"owner_name"`
	Date      string    `json:"date"`
	Version   string    `json:"version"`
	SourceSig SourceSig `json:"source"`

	// Species is the owner's founder species, when resolvable.
	Species *Species `json:"species,omitempty"`

	Military       Military          `json:"military"`
	Economy        Economy           `json:"economy"`
	Territory      Territory         `json:"territory"`
	Diplomacy      Diplomacy         `json:"diplomacy"`
	Leaders        []Leader          `json:"leaders"`
	Technology     Technology        `json:"technology"`
	Installations  []Installation    `json:"installations"`
	Megastructures []Megastructure   `json:"megastructures"`
	Policies       map[string]string `json:"policies,omitempty"`
	Edicts         []string          `json:"edicts,omitempty"`
	CrisisActive   bool              `json:"crisis_active"`
	Eras           Eras              `json:"eras"`

	// TruncatedLists names the list fields that were cut at their caller
	// limit, so a short list can be told apart from a truncated one.
	TruncatedLists []string `json:"truncated_lists,omitempty"`
}

// Species identifies a founder species by display name and class.
type Species struct {
	Name  string `json:"name"`
	Class string `json:"class"`
}

// SourceSig identifies the container a snapshot was extracted from.
type SourceSig struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

type Military struct {
	Power      *float64 `json:"power,omitempty"`
	FleetCount *int64   `json:"fleet_count,omitempty"`
}

// Economy carries net monthly flows keyed by resource name. Absence of a
// resource means it could not be extracted, which is distinct from a zero net.
type Economy struct {
	Nets map[string]float64 `json:"nets,omitempty"`
}

type Territory struct {
	ColonyCount *int64   `json:"colony_count,omitempty"`
	Colonies    []Colony `json:"colonies,omitempty"`
	SystemCount *int64   `json:"system_count,omitempty"`
}

type Colony struct {
	PlanetID int64  `json:"planet_id"`
	Name     string `json:"name"`
}

type Diplomacy struct {
	Federation   *string  `json:"federation,omitempty"`
	Allies       []string `json:"allies,omitempty"`
	Rivals       []string `json:"rivals,omitempty"`
	Treaties     []string `json:"treaties,omitempty"`
	Subjects     []string `json:"subjects,omitempty"`
	Wars         []War    `json:"wars,omitempty"`
	KnownEmpires *int64   `json:"known_empires,omitempty"`
}

type War struct {
	Name      string   `json:"name"`
	Attackers []string `json:"attackers,omitempty"`
	Defenders []string `json:"defenders,omitempty"`
	Battles   []string `json:"battles,omitempty"`
}

// Leader is one roster entry. RecruitmentDate equal to PoolSentinelDate marks
// a synthetic unrecruited-pool entry; DeathDate is empty while alive.
type Leader struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Class           string `json:"class"`
	Level           *int64 `json:"level,omitempty"`
	RecruitmentDate string `json:"recruitment_date,omitempty"`
	DeathDate       string `json:"death_date,omitempty"`
	Ruler           bool   `json:"ruler,omitempty"`
}

// PoolSentinelDate is the placeholder recruitment date carried by roster
// entries that exist only in the hiring pool.
const PoolSentinelDate = "1.01.01"

type Technology struct {
	Count      *int64   `json:"count,omitempty"`
	Researched []string `json:"researched,omitempty"`
}

// Installation is a defense platform attributed to the owner through the
// ownership chain (installation -> station unit -> unit group -> owner's
// declared group set).
type Installation struct {
	ID       int64  `json:"id"`
	SystemID int64  `json:"system_id,omitempty"`
	Level    string `json:"level,omitempty"`
}

type Megastructure struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Stage int    `json:"stage"`
}

// Eras holds the calendar thresholds used for milestone detection.
type Eras struct {
	MidGameYear int `json:"mid_game_year,omitempty"`
	EndGameYear int `json:"end_game_year,omitempty"`
}

// Year parses the leading year out of a "YYYY.MM.DD" date. Zero means the
// date was absent or malformed.
func Year(date string) int {
	dot := strings.IndexByte(date, '.')
	if dot < 0 {
		dot = len(date)
	}
	y, err := strconv.Atoi(date[:dot])
	if err != nil {
		return 0
	}
	return y
}

// LeaderRef is the roster projection the detector compares.
type LeaderRef struct {
	Name            string
	Class           string
	RecruitmentDate string
	DeathDate       string
}

// MegaRef is the megastructure projection the detector compares.
type MegaRef struct {
	Type  string
	Stage int
}

// EventState is the diff-only projection of a Snapshot. Derive is
// deterministic: the same Snapshot always yields the same EventState.
type EventState struct {
	Year          int
	MilitaryPower *float64
	FleetCount    *int64
	ColonyCount   *int64
	SystemCount   *int64
	TechCount     *int64
	Nets          map[string]float64
	Wars          sets.Set[string]
	Allies        sets.Set[string]
	Rivals        sets.Set[string]
	Treaties      sets.Set[string]
	Federation    *string
	Techs         sets.Set[string]
	Leaders       map[int64]LeaderRef
	Ruler         *string
	Policies      map[string]string
	Edicts        sets.Set[string]
	Megas         map[int64]MegaRef
	CrisisActive  bool
	MidGameYear   int
	EndGameYear   int
	WarBattles    map[string][]string
}

// Derive projects a Snapshot down to the fields the event detector compares.
func Derive(s *Snapshot) EventState {
	es := EventState{
		Year:          Year(s.Date),
		MilitaryPower: s.Military.Power,
		FleetCount:    s.Military.FleetCount,
		ColonyCount:   s.Territory.ColonyCount,
		SystemCount:   s.Territory.SystemCount,
		TechCount:     s.Technology.Count,
		Federation:    s.Diplomacy.Federation,
		CrisisActive:  s.CrisisActive,
		MidGameYear:   s.Eras.MidGameYear,
		EndGameYear:   s.Eras.EndGameYear,
		Wars:          sets.New[string](),
		Allies:        sets.New(s.Diplomacy.Allies...),
		Rivals:        sets.New(s.Diplomacy.Rivals...),
		Treaties:      sets.New(s.Diplomacy.Treaties...),
		Techs:         sets.New(s.Technology.Researched...),
		Edicts:        sets.New(s.Edicts...),
		Leaders:       make(map[int64]LeaderRef, len(s.Leaders)),
		Megas:         make(map[int64]MegaRef, len(s.Megastructures)),
		WarBattles:    make(map[string][]string),
	}
	if len(s.Economy.Nets) > 0 {
		es.Nets = make(map[string]float64, len(s.Economy.Nets))
		for k, v := range s.Economy.Nets {
			es.Nets[k] = v
		}
	}
	if len(s.Policies) > 0 {
		es.Policies = make(map[string]string, len(s.Policies))
		for k, v := range s.Policies {
			es.Policies[k] = v
		}
	}
	for _, w := range s.Diplomacy.Wars {
		es.Wars.Add(w.Name)
		if len(w.Battles) > 0 {
			es.WarBattles[w.Name] = append([]string(nil), w.Battles...)
		}
	}
	for _, l := range s.Leaders {
		es.Leaders[l.ID] = LeaderRef{
			Name:            l.Name,
			Class:           l.Class,
			RecruitmentDate: l.RecruitmentDate,
			DeathDate:       l.DeathDate,
		}
		if l.Ruler {
			name := l.Name
			es.Ruler = &name
		}
	}
	for _, m := range s.Megastructures {
		es.Megas[m.ID] = MegaRef{Type: m.Type, Stage: m.Stage}
	}
	return es
}
