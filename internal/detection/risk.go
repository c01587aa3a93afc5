package detection

import (
	"time"

	"socwatch/internal/domain"
)

const (
	defaultBaseScore   = 30
	nightModifier      = 10
	repeatModifier     = 15
	repeatThreshold    = 5
	nightWindowEndHour = 6
)

var baseScores = map[string]int{
	domain.LabelBruteForce:         60,
	domain.LabelDDoS:               80,
	domain.LabelMalware:            90,
	domain.LabelPortScan:           40,
	domain.LabelSuspiciousActivity: 50,
}

type RiskScorer struct {
	clock func() time.Time
}

// NewRiskScorer uses clock for the local hour; nil means time.Now.
func NewRiskScorer(clock func() time.Time) *RiskScorer {
	if clock == nil {
		clock = time.Now
	}
	return &RiskScorer{clock: clock}
}

// BaseScore returns the table score for attackType before modifiers.
func BaseScore(attackType string) int {
	if score, ok := baseScores[attackType]; ok {
		return score
	}
	return defaultBaseScore
}

// Score rates attackType in [0,100]. Between local midnight and 06:00 the score
// gains 10, and more than five prior alerts from the same IP add 15.
func (s *RiskScorer) Score(attackType string, ipHistoryCount int) int {
	score := BaseScore(attackType)

	if hour := s.clock().Hour(); hour >= 0 && hour < nightWindowEndHour {
		score += nightModifier
	}
	if ipHistoryCount > repeatThreshold {
		score += repeatModifier
	}

	return domain.ClampRiskScore(score)
}
