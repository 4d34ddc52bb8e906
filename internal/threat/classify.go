package threat

import (
	"sort"

	"killwatch/pkg/models"
)

// Assessment is the verdict over one cluster of kills at a location.
type Assessment struct {
	Confidence      models.Confidence
	KillCount       int
	PodCount        int
	OverlapRatio    float64
	Smartbomb       bool
	TopCorporations []int64
	TotalValue      float64
}

// Classify grades a cluster of kills as a potential gatecamp. Confidence is
// driven by cluster size, attacker overlap across kills (one group reaping
// several victims, the camp signature) and smartbomb use.
func Classify(kills []*models.ProcessedKill, cfg Config) Assessment {
	a := Assessment{KillCount: len(kills)}

	bombs := cfg.smartbombs
	if bombs == nil {
		bombs = smartbombSet(cfg.SmartbombTypes)
	}

	corpKills := make(map[int64]int)
	for _, k := range kills {
		if k == nil {
			continue
		}
		if k.Pod {
			a.PodCount++
		}
		a.TotalValue += k.TotalValue
		if bombs[k.FinalBlowWeaponTypeID] {
			a.Smartbomb = true
		}
		seen := make(map[int64]bool, len(k.AttackerCorporations))
		for _, c := range k.AttackerCorporations {
			if c == 0 || seen[c] {
				continue
			}
			seen[c] = true
			corpKills[c]++
		}
	}

	a.TopCorporations = topCorporations(corpKills)
	if a.KillCount > 0 {
		best := 0
		for _, n := range corpKills {
			if n > best {
				best = n
			}
		}
		a.OverlapRatio = float64(best) / float64(a.KillCount)
	}

	if a.KillCount < cfg.MinKills {
		a.Confidence = models.ConfidenceNone
		return a
	}

	switch {
	case a.OverlapRatio >= cfg.OverlapHigh && (a.KillCount >= cfg.HighKills || a.Smartbomb):
		a.Confidence = models.ConfidenceHigh
	case a.OverlapRatio >= cfg.OverlapMedium || a.Smartbomb:
		a.Confidence = models.ConfidenceMedium
	default:
		a.Confidence = models.ConfidenceLow
	}
	return a
}

const maxTopCorporations = 5

func topCorporations(corpKills map[int64]int) []int64 {
	if len(corpKills) == 0 {
		return nil
	}
	corps := make([]int64, 0, len(corpKills))
	for c := range corpKills {
		corps = append(corps, c)
	}
	sort.Slice(corps, func(i, j int) bool {
		if corpKills[corps[i]] != corpKills[corps[j]] {
			return corpKills[corps[i]] > corpKills[corps[j]]
		}
		return corps[i] < corps[j]
	})
	if len(corps) > maxTopCorporations {
		corps = corps[:maxTopCorporations]
	}
	return corps
}
