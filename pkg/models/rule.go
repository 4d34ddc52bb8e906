package models

// RuleTag records one notification rule that matched a kill during enrichment.
type RuleTag struct {
	RuleID   string `json:"rule_id"`
	Title    string `json:"title"`
	Level    string `json:"level,omitempty"`
	Category string `json:"category,omitempty"`
}

// RuleTagCounts aggregates matches per rule over a run.
type RuleTagCounts struct {
	Total  int            `json:"total"`
	ByRule map[string]int `json:"by_rule"`
}

// NewRuleTagCounts returns an empty, usable counter set.
func NewRuleTagCounts() *RuleTagCounts {
	return &RuleTagCounts{ByRule: make(map[string]int)}
}

// Add records a single rule match.
func (c *RuleTagCounts) Add(ruleID string) {
	if c == nil {
		return
	}
	c.Total++
	if c.ByRule == nil {
		c.ByRule = make(map[string]int)
	}
	c.ByRule[ruleID]++
}
