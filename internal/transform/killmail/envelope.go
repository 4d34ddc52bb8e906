package killmail

import (
	"encoding/json"
	"fmt"
	"strings"

	"killwatch/pkg/models"
)

// ParseEnvelope decodes one feed delivery into a kill stub. Quiet polls
// ({"package": null}) return (nil, nil). The feed wraps deliveries in a
// package object but some relays strip the wrapper, so both shapes are
// accepted, as are the long and short key spellings seen in the wild.
func ParseEnvelope(data []byte) (*models.KillStub, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	pkg := raw
	if v, ok := raw["package"]; ok {
		if v == nil {
			return nil, nil
		}
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("feed package has unexpected shape %T", v)
		}
		pkg = m
	}

	stub := &models.KillStub{
		KillID:              getInt64(pkg, "killID", "kill_id", "killmail_id", "killmail.killmail_id"),
		Hash:                getString(pkg, "zkb.hash", "kill_hash", "hash"),
		SolarSystemID:       int32(getInt64(pkg, "solar_system_id", "system_id", "killmail.solar_system_id")),
		VictimCorporationID: getInt64(pkg, "victim_corporation_id", "killmail.victim.corporation_id"),
		VictimAllianceID:    getInt64(pkg, "victim_alliance_id", "killmail.victim.alliance_id"),
		HintValue:           getFloat(pkg, "zkb.totalValue", "total_value", "value"),
	}
	if !stub.Valid() {
		return nil, fmt.Errorf("feed package missing kill reference (kill_id=%d)", stub.KillID)
	}
	return stub, nil
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				return val
			case fmt.Stringer:
				return val.String()
			case float64:
				if val == float64(int64(val)) {
					return fmt.Sprintf("%d", int64(val))
				}
				return fmt.Sprintf("%f", val)
			}
		}
	}
	return ""
}

func getInt64(root map[string]interface{}, paths ...string) int64 {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case int:
				return int64(val)
			case int64:
				return val
			case float64:
				return int64(val)
			case string:
				if val == "" {
					continue
				}
				var parsed int64
				if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
					return parsed
				}
			}
		}
	}
	return 0
}

func getFloat(root map[string]interface{}, paths ...string) float64 {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case float64:
				return val
			case int:
				return float64(val)
			case int64:
				return float64(val)
			case string:
				if val == "" {
					continue
				}
				var parsed float64
				if _, err := fmt.Sscanf(val, "%g", &parsed); err == nil {
					return parsed
				}
			}
		}
	}
	return 0
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
