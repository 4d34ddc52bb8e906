package rules

import "killwatch/pkg/models"

// killFields flattens an enriched kill into the field map rule selections
// reference. List-valued fields hold every attacker entry so a rule matches
// when any element does.
func killFields(k *models.ProcessedKill) map[string]interface{} {
	fields := map[string]interface{}{
		"kill_id":                   k.KillID,
		"solar_system_id":           int64(k.SolarSystemID),
		"victim_character_id":       k.VictimCharacterID,
		"victim_corporation_id":     k.VictimCorporationID,
		"victim_alliance_id":        k.VictimAllianceID,
		"victim_faction_id":         k.VictimFactionID,
		"victim_ship_type_id":       int64(k.VictimShipTypeID),
		"attacker_count":            int64(k.AttackerCount),
		"final_blow_character_id":   k.FinalBlowCharacterID,
		"final_blow_ship_type_id":   int64(k.FinalBlowShipTypeID),
		"final_blow_weapon_type_id": int64(k.FinalBlowWeaponTypeID),
		"total_value":               k.TotalValue,
		"pod":                       k.Pod,
		"war_id":                    k.WarID,
	}
	if !k.Time.IsZero() {
		fields["hour"] = int64(k.Time.UTC().Hour())
	}
	fields["attacker_corporation_ids"] = toInterface64(k.AttackerCorporations)
	fields["attacker_alliance_ids"] = toInterface64(k.AttackerAlliances)
	fields["attacker_ship_type_ids"] = toInterface32(k.AttackerShipTypes)
	return fields
}

func toInterface64(in []int64) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, v := range in {
		out = append(out, v)
	}
	return out
}

func toInterface32(in []int32) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, v := range in {
		out = append(out, int64(v))
	}
	return out
}
