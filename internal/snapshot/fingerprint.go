package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"git.home.luguber.info/inful/statewatch/internal/util/sets"
)

// Fingerprint hashes the high-signal fields of a snapshot in a canonical
// order. Two saves that differ only cosmetically (re-saved without any state
// change) produce the same fingerprint and dedupe in the store. This is
// deliberately not a hash of the raw container bytes.
func Fingerprint(s *Snapshot) string {
	var b strings.Builder
	write := func(key string, val any) {
		fmt.Fprintf(&b, "%s=%v\n", key, val)
	}
	write("owner", s.OwnerID)
	write("owner_name", s.OwnerName)
	write("date", s.Date)
	if s.Military.Power != nil {
		write("military_power", *s.Military.Power)
	}
	if s.Military.FleetCount != nil {
		write("fleet_count", *s.Military.FleetCount)
	}
	if s.Territory.ColonyCount != nil {
		write("colony_count", *s.Territory.ColonyCount)
	}
	if s.Territory.SystemCount != nil {
		write("system_count", *s.Territory.SystemCount)
	}
	if s.Technology.Count != nil {
		write("tech_count", *s.Technology.Count)
	}
	warNames := sets.New[string]()
	for _, w := range s.Diplomacy.Wars {
		warNames.Add(w.Name)
	}
	write("wars", strings.Join(sets.Sorted(warNames), ","))
	keys := make([]string, 0, len(s.Economy.Nets))
	for k := range s.Economy.Nets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write("net_"+k, fmt.Sprintf("%.2f", s.Economy.Nets[k]))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
