package presence

import (
	"fmt"
	"sync"
	"time"

	"killwatch/pkg/models"
)

// Index tracks where watched entities were last seen. The admission filter
// consults it to decide whether an unwatched location still deserves a
// detail fetch because a watched entity was recently active there.
type Index interface {
	Record(kills []*models.ProcessedKill, watch models.WatchSet) error
	ActiveAt(systemID int32, since time.Time) (bool, error)
	Sweep(olderThan time.Time) error
	Close() error
}

// member encodes a watched entity as kind|id.
func member(kind string, id int64) string {
	return fmt.Sprintf("%s|%d", kind, id)
}

// watchedMembers lists the watched entities involved in a kill.
func watchedMembers(k *models.ProcessedKill, w models.WatchSet) []string {
	var out []string
	if w.Characters[k.VictimCharacterID] {
		out = append(out, member("char", k.VictimCharacterID))
	}
	if w.Corporations[k.VictimCorporationID] {
		out = append(out, member("corp", k.VictimCorporationID))
	}
	if w.Alliances[k.VictimAllianceID] {
		out = append(out, member("alli", k.VictimAllianceID))
	}
	if w.Characters[k.FinalBlowCharacterID] {
		out = append(out, member("char", k.FinalBlowCharacterID))
	}
	seen := map[string]bool{}
	for _, c := range k.AttackerCorporations {
		if w.Corporations[c] {
			seen[member("corp", c)] = true
		}
	}
	for _, a := range k.AttackerAlliances {
		if w.Alliances[a] {
			seen[member("alli", a)] = true
		}
	}
	for m := range seen {
		out = append(out, m)
	}
	return out
}

// MemoryIndex keeps sightings in process memory. The default for single
// process deployments.
type MemoryIndex struct {
	mu       sync.Mutex
	bySystem map[int32]map[string]time.Time
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{bySystem: make(map[int32]map[string]time.Time)}
}

// Record stores sightings of watched entities from enriched kills.
func (m *MemoryIndex) Record(kills []*models.ProcessedKill, watch models.WatchSet) error {
	if watch.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range kills {
		if k == nil || k.SolarSystemID == 0 {
			continue
		}
		members := watchedMembers(k, watch)
		if len(members) == 0 {
			continue
		}
		sys := m.bySystem[k.SolarSystemID]
		if sys == nil {
			sys = make(map[string]time.Time)
			m.bySystem[k.SolarSystemID] = sys
		}
		for _, mem := range members {
			if k.Time.After(sys[mem]) {
				sys[mem] = k.Time
			}
		}
	}
	return nil
}

// ActiveAt reports whether any watched entity was seen at the location since
// the given time.
func (m *MemoryIndex) ActiveAt(systemID int32, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ts := range m.bySystem[systemID] {
		if !ts.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// Sweep drops sightings older than the cutoff.
func (m *MemoryIndex) Sweep(olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sys, members := range m.bySystem {
		for mem, ts := range members {
			if ts.Before(olderThan) {
				delete(members, mem)
			}
		}
		if len(members) == 0 {
			delete(m.bySystem, sys)
		}
	}
	return nil
}

// Close is a no-op for the in-memory index.
func (m *MemoryIndex) Close() error {
	return nil
}
