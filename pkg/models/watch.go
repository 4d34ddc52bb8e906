package models

// WatchSet is the set of entities someone cares about, merged from all
// active notification profiles.
type WatchSet struct {
	Characters   map[int64]bool
	Corporations map[int64]bool
	Alliances    map[int64]bool
}

// NewWatchSet returns an empty, usable watch set.
func NewWatchSet() WatchSet {
	return WatchSet{
		Characters:   make(map[int64]bool),
		Corporations: make(map[int64]bool),
		Alliances:    make(map[int64]bool),
	}
}

// Empty reports whether nothing is watched.
func (w WatchSet) Empty() bool {
	return len(w.Characters) == 0 && len(w.Corporations) == 0 && len(w.Alliances) == 0
}

// MatchesStub checks the cheap victim hints a feed stub may carry.
func (w WatchSet) MatchesStub(s *KillStub) bool {
	if s == nil {
		return false
	}
	return w.Corporations[s.VictimCorporationID] || w.Alliances[s.VictimAllianceID]
}

// MatchesKill reports whether any watched entity appears on either side.
func (w WatchSet) MatchesKill(k *ProcessedKill) bool {
	if k == nil {
		return false
	}
	if w.Characters[k.VictimCharacterID] || w.Corporations[k.VictimCorporationID] || w.Alliances[k.VictimAllianceID] {
		return true
	}
	if w.Characters[k.FinalBlowCharacterID] {
		return true
	}
	for _, c := range k.AttackerCorporations {
		if w.Corporations[c] {
			return true
		}
	}
	for _, a := range k.AttackerAlliances {
		if w.Alliances[a] {
			return true
		}
	}
	return false
}
