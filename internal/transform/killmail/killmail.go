package killmail

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"killwatch/pkg/models"
)

// podShipTypes are capsule hull types. A kill of one of these means the pilot
// themselves was caught, the strongest gatecamp signal there is.
var podShipTypes = map[int32]bool{
	670:   true,
	33328: true,
}

type rawKillmail struct {
	KillmailID    int64         `json:"killmail_id"`
	KillmailTime  string        `json:"killmail_time"`
	SolarSystemID int32         `json:"solar_system_id"`
	WarID         int64         `json:"war_id"`
	Victim        rawVictim     `json:"victim"`
	Attackers     []rawAttacker `json:"attackers"`
	Zkb           *rawZkb       `json:"zkb"`
}

type rawVictim struct {
	CharacterID   int64 `json:"character_id"`
	CorporationID int64 `json:"corporation_id"`
	AllianceID    int64 `json:"alliance_id"`
	FactionID     int64 `json:"faction_id"`
	ShipTypeID    int32 `json:"ship_type_id"`
	DamageTaken   int64 `json:"damage_taken"`
}

type rawAttacker struct {
	CharacterID   int64 `json:"character_id"`
	CorporationID int64 `json:"corporation_id"`
	AllianceID    int64 `json:"alliance_id"`
	FactionID     int64 `json:"faction_id"`
	ShipTypeID    int32 `json:"ship_type_id"`
	WeaponTypeID  int32 `json:"weapon_type_id"`
	FinalBlow     bool  `json:"final_blow"`
	DamageDone    int64 `json:"damage_done"`
}

type rawZkb struct {
	Hash       string  `json:"hash"`
	TotalValue float64 `json:"totalValue"`
}

// ParseKillmail decodes a kill detail document and merges it with the stub
// that paid for the fetch. The document's kill identifier must match the
// stub's or the result would be attributed to the wrong kill.
func ParseKillmail(data []byte, stub *models.KillStub) (*models.ProcessedKill, error) {
	var raw rawKillmail
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.KillmailID == 0 {
		return nil, fmt.Errorf("kill detail missing killmail_id")
	}
	if stub != nil && stub.KillID != raw.KillmailID {
		return nil, fmt.Errorf("kill detail id %d does not match stub %d", raw.KillmailID, stub.KillID)
	}

	k := &models.ProcessedKill{
		KillID:              raw.KillmailID,
		SolarSystemID:       raw.SolarSystemID,
		WarID:               raw.WarID,
		VictimCharacterID:   raw.Victim.CharacterID,
		VictimCorporationID: raw.Victim.CorporationID,
		VictimAllianceID:    raw.Victim.AllianceID,
		VictimFactionID:     raw.Victim.FactionID,
		VictimShipTypeID:    raw.Victim.ShipTypeID,
		AttackerCount:       len(raw.Attackers),
		Pod:                 podShipTypes[raw.Victim.ShipTypeID],
	}

	if t, ok := parseKillTime(raw.KillmailTime); ok {
		k.Time = t
	}

	for _, a := range raw.Attackers {
		if a.CorporationID != 0 {
			k.AttackerCorporations = append(k.AttackerCorporations, a.CorporationID)
		}
		if a.AllianceID != 0 {
			k.AttackerAlliances = append(k.AttackerAlliances, a.AllianceID)
		}
		if a.FactionID != 0 {
			k.AttackerFactions = append(k.AttackerFactions, a.FactionID)
		}
		if a.ShipTypeID != 0 {
			k.AttackerShipTypes = append(k.AttackerShipTypes, a.ShipTypeID)
		}
		if a.FinalBlow {
			k.FinalBlowCharacterID = a.CharacterID
			k.FinalBlowShipTypeID = a.ShipTypeID
			k.FinalBlowWeaponTypeID = a.WeaponTypeID
		}
	}

	if raw.Zkb != nil {
		if k.Hash == "" {
			k.Hash = raw.Zkb.Hash
		}
		k.TotalValue = raw.Zkb.TotalValue
	}
	if stub != nil {
		if k.Hash == "" {
			k.Hash = stub.Hash
		}
		if k.SolarSystemID == 0 {
			k.SolarSystemID = stub.SolarSystemID
		}
		if k.TotalValue == 0 {
			k.TotalValue = stub.HintValue
		}
	}

	return k, nil
}

func parseKillTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}

	// Older archive dumps use a dotted date without zone information.
	for _, layout := range []string{
		"2006.01.02 15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}
