package scan

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"killwatch/internal/threat"
	"killwatch/pkg/models"
)

// Config controls the offline camp sweep.
type Config struct {
	Threat threat.Config
	// SessionGap is the quiet stretch that closes a camp session. Defaults
	// to the threat clustering window.
	SessionGap  time.Duration
	MaxSessions int
}

// CampSession is one contiguous stretch of camp activity in a location.
type CampSession struct {
	SolarSystemID   int32             `json:"solar_system_id"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         time.Time         `json:"ended_at"`
	KillCount       int               `json:"kill_count"`
	PodCount        int               `json:"pod_count"`
	PeakConfidence  models.Confidence `json:"peak_confidence"`
	PeakOverlap     float64           `json:"peak_overlap"`
	Smartbomb       bool              `json:"smartbomb"`
	TopCorporations []int64           `json:"top_corporations,omitempty"`
	TotalValue      float64           `json:"total_value"`
	Kills           []int64           `json:"kills"`
}

// Duration returns the session span.
func (s CampSession) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// LoadKillsJSONL reads enriched kills from a JSONL archive. Lines that do not
// decode are skipped.
func LoadKillsJSONL(path string) ([]*models.ProcessedKill, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	kills := make([]*models.ProcessedKill, 0, 4096)
	s := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	s.Buffer(buf, 8*1024*1024)

	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		var k models.ProcessedKill
		if err := json.Unmarshal([]byte(line), &k); err != nil {
			continue
		}
		kills = append(kills, &k)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan input: %w", err)
	}
	return kills, nil
}

// Sweep replays kill history through the camp thresholds and returns the
// camp sessions it finds, strongest first. Sessions that never reach a camp
// confidence are dropped.
func Sweep(kills []*models.ProcessedKill, cfg Config) []CampSession {
	tcfg := cfg.Threat.WithDefaults()
	if cfg.SessionGap <= 0 {
		cfg.SessionGap = tcfg.Window
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1000
	}

	bySystem := make(map[int32][]*models.ProcessedKill, 64)
	for _, k := range kills {
		if k == nil || k.SolarSystemID == 0 || k.Time.IsZero() {
			continue
		}
		bySystem[k.SolarSystemID] = append(bySystem[k.SolarSystemID], k)
	}

	systems := make([]int32, 0, len(bySystem))
	for sys := range bySystem {
		sort.Slice(bySystem[sys], func(i, j int) bool {
			return compareKills(bySystem[sys][i], bySystem[sys][j]) < 0
		})
		systems = append(systems, sys)
	}
	sort.Slice(systems, func(i, j int) bool { return systems[i] < systems[j] })

	out := make([]CampSession, 0, 64)
	for _, sys := range systems {
		history := bySystem[sys]
		start := 0
		for i := 1; i <= len(history); i++ {
			if i < len(history) && history[i].Time.Sub(history[i-1].Time) <= cfg.SessionGap {
				continue
			}
			if session, ok := buildSession(sys, history[start:i], tcfg); ok {
				out = append(out, session)
			}
			start = i
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].KillCount != out[j].KillCount {
			return out[i].KillCount > out[j].KillCount
		}
		if out[i].TotalValue != out[j].TotalValue {
			return out[i].TotalValue > out[j].TotalValue
		}
		if out[i].SolarSystemID != out[j].SolarSystemID {
			return out[i].SolarSystemID < out[j].SolarSystemID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	if len(out) > cfg.MaxSessions {
		out = out[:cfg.MaxSessions]
	}
	return out
}

// buildSession grades one contiguous kill run by sliding the clustering
// window across it, the same classification the live cache applies.
func buildSession(sys int32, run []*models.ProcessedKill, tcfg threat.Config) (CampSession, bool) {
	if len(run) < tcfg.MinKills {
		return CampSession{}, false
	}

	session := CampSession{
		SolarSystemID:  sys,
		StartedAt:      run[0].Time,
		EndedAt:        run[len(run)-1].Time,
		KillCount:      len(run),
		PeakConfidence: models.ConfidenceNone,
	}

	var peak threat.Assessment
	lo := 0
	for hi := 0; hi < len(run); hi++ {
		cutoff := run[hi].Time.Add(-tcfg.Window)
		for run[lo].Time.Before(cutoff) {
			lo++
		}
		a := threat.Classify(run[lo:hi+1], tcfg)
		if a.Confidence.Rank() > peak.Confidence.Rank() ||
			(a.Confidence.Rank() == peak.Confidence.Rank() && a.OverlapRatio > peak.OverlapRatio) {
			peak = a
		}
	}
	if peak.Confidence.Rank() == 0 {
		return CampSession{}, false
	}

	whole := threat.Classify(run, tcfg)
	session.PeakConfidence = peak.Confidence
	session.PeakOverlap = peak.OverlapRatio
	session.PodCount = whole.PodCount
	session.Smartbomb = whole.Smartbomb
	session.TotalValue = whole.TotalValue
	session.TopCorporations = whole.TopCorporations
	for _, k := range run {
		session.Kills = append(session.Kills, k.KillID)
	}
	return session, true
}

func compareKills(a, b *models.ProcessedKill) int {
	if a.Time.Before(b.Time) {
		return -1
	}
	if a.Time.After(b.Time) {
		return 1
	}
	if a.KillID != b.KillID {
		if a.KillID < b.KillID {
			return -1
		}
		return 1
	}
	return 0
}
