package models

import "time"

// KillStub is the minimal feed entry for one kill. It carries just enough to
// deduplicate and to pay for a remote detail fetch; it is discarded once the
// queues have taken ownership.
type KillStub struct {
	KillID        int64  `json:"kill_id"`
	Hash          string `json:"kill_hash"`
	SolarSystemID int32  `json:"solar_system_id"`

	// Optional cheap signals some feed envelopes carry. Zero when absent.
	VictimCorporationID int64   `json:"victim_corporation_id,omitempty"`
	VictimAllianceID    int64   `json:"victim_alliance_id,omitempty"`
	HintValue           float64 `json:"hint_value,omitempty"`
}

// Valid reports whether the stub can be enriched at all.
func (s *KillStub) Valid() bool {
	return s != nil && s.KillID > 0 && s.Hash != "" && s.SolarSystemID > 0
}

// ProcessedKill is the fully enriched record for one kill. Exactly one exists
// per kill identifier; the store owns it after the writer loop has persisted it.
type ProcessedKill struct {
	KillID        int64     `json:"kill_id"`
	Hash          string    `json:"kill_hash"`
	Time          time.Time `json:"time"`
	SolarSystemID int32     `json:"solar_system_id"`

	VictimCharacterID   int64 `json:"victim_character_id,omitempty"`
	VictimCorporationID int64 `json:"victim_corporation_id,omitempty"`
	VictimAllianceID    int64 `json:"victim_alliance_id,omitempty"`
	VictimFactionID     int64 `json:"victim_faction_id,omitempty"`
	VictimShipTypeID    int32 `json:"victim_ship_type_id,omitempty"`

	AttackerCount        int     `json:"attacker_count"`
	AttackerCorporations []int64 `json:"attacker_corporations,omitempty"`
	AttackerAlliances    []int64 `json:"attacker_alliances,omitempty"`
	AttackerFactions     []int64 `json:"attacker_factions,omitempty"`
	AttackerShipTypes    []int32 `json:"attacker_ship_types,omitempty"`

	FinalBlowCharacterID  int64 `json:"final_blow_character_id,omitempty"`
	FinalBlowShipTypeID   int32 `json:"final_blow_ship_type_id,omitempty"`
	FinalBlowWeaponTypeID int32 `json:"final_blow_weapon_type_id,omitempty"`

	TotalValue float64 `json:"total_value"`
	Pod        bool    `json:"pod"`
	WarID      int64   `json:"war_id,omitempty"`

	RuleTags []RuleTag `json:"rule_tags,omitempty"`
}

// InvolvesCorporation reports whether the corporation appears on either side.
func (k *ProcessedKill) InvolvesCorporation(id int64) bool {
	if k == nil || id == 0 {
		return false
	}
	if k.VictimCorporationID == id {
		return true
	}
	for _, c := range k.AttackerCorporations {
		if c == id {
			return true
		}
	}
	return false
}

// InvolvesAlliance reports whether the alliance appears on either side.
func (k *ProcessedKill) InvolvesAlliance(id int64) bool {
	if k == nil || id == 0 {
		return false
	}
	if k.VictimAllianceID == id {
		return true
	}
	for _, a := range k.AttackerAlliances {
		if a == id {
			return true
		}
	}
	return false
}

// HasRuleTag reports whether the named rule matched during enrichment.
func (k *ProcessedKill) HasRuleTag(ruleID string) bool {
	if k == nil {
		return false
	}
	for _, t := range k.RuleTags {
		if t.RuleID == ruleID {
			return true
		}
	}
	return false
}

// InvolvesFaction reports whether the faction appears on either side.
func (k *ProcessedKill) InvolvesFaction(id int64) bool {
	if k == nil || id == 0 {
		return false
	}
	if k.VictimFactionID == id {
		return true
	}
	for _, f := range k.AttackerFactions {
		if f == id {
			return true
		}
	}
	return false
}
