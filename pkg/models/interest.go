package models

// LayerScore is the verdict of one interest layer for one kill or location.
type LayerScore struct {
	Layer  string  `json:"layer"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// InterestScore is the combined interest verdict. Base is the strongest layer
// score, Multiplier the pattern escalation applied on top, and Final the
// clamped product the evaluator compares against profile thresholds.
type InterestScore struct {
	Base       float64      `json:"base"`
	Multiplier float64      `json:"multiplier"`
	Final      float64      `json:"final"`
	Layers     []LayerScore `json:"layers,omitempty"`
}

// Dominant returns the layer that produced the base score, or a zero value
// when no layer scored.
func (s InterestScore) Dominant() LayerScore {
	var best LayerScore
	for _, l := range s.Layers {
		if l.Score > best.Score {
			best = l
		}
	}
	return best
}
