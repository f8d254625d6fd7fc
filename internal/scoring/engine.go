// Package scoring computes deterministic transaction risk scores.
//
// A score is the clamped sum of three independent components: the merchant
// category, the time of day, and the amount relative to the employee's daily
// limit. Scores are integers in [0, 100].
package scoring

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	MinScore = 0
	MaxScore = 100

	nightBonus    = 20
	weekendBonus  = 15
	offHoursBonus = 10
	amountBonus   = 15
)

// groupWeights is the contribution of each risk group before the MCC's own
// risk level is added.
var groupWeights = map[domain.RiskGroup]int{
	domain.RiskGroupBlack:      100,
	domain.RiskGroupHighRisk:   40,
	domain.RiskGroupMediumRisk: 25,
	domain.RiskGroupLowRisk:    10,
	domain.RiskGroupNormal:     0,
	domain.RiskGroupGray:       0,
	domain.RiskGroupTrusted:    -10,
}

// GroupWeight returns the weight for a risk group and whether it is known.
func GroupWeight(g domain.RiskGroup) (int, bool) {
	w, ok := groupWeights[g]
	return w, ok
}

// Breakdown is a score with its per-component contributions.
type Breakdown struct {
	MCC    int `json:"mcc"`
	Time   int `json:"time"`
	Amount int `json:"amount"`

	// Spike is reserved for a rolling 30-day amount comparison and is always 0.
	Spike int `json:"spike"`

	Total int `json:"total"`
}

// Engine scores transaction contexts. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	loc *time.Location
}

// NewEngine creates an engine that evaluates hour and weekday in loc.
// A nil location means UTC.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{loc: loc}
}

// NewEngineForZone creates an engine for an IANA zone name.
func NewEngineForZone(zone string) (*Engine, error) {
	if zone == "" {
		return NewEngine(time.UTC), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("invalid scoring location %q: %w", zone, err)
	}
	return NewEngine(loc), nil
}

// Location returns the zone used for time-of-day checks.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Score computes the risk score for a transaction context.
// Returns domain.ErrIncompleteContext if any link is missing.
func (e *Engine) Score(tc *domain.TransactionContext) (Breakdown, error) {
	if !tc.Complete() {
		return Breakdown{}, domain.ErrIncompleteContext
	}

	b := Breakdown{
		MCC:    MCCComponent(tc.MCC),
		Time:   e.TimeComponent(tc.Transaction.OccurredAt),
		Amount: AmountComponent(tc.Transaction.Amount, tc.Employee.SpendingLimitDaily),
	}
	b.Total = clamp(b.MCC + b.Time + b.Amount + b.Spike)
	return b, nil
}

// MCCComponent is the group weight plus the category's risk level.
// An unknown group contributes nothing.
func MCCComponent(mcc *domain.MCC) int {
	if mcc == nil {
		return 0
	}
	w, ok := groupWeights[mcc.RiskGroup]
	if !ok {
		return 0
	}
	return w + mcc.RiskLevel
}

// TimeComponent scores night, weekend and off-hours activity.
// Night and weekend stack; off-hours applies only when night did not.
func (e *Engine) TimeComponent(at time.Time) int {
	local := at.In(e.loc)
	hour := local.Hour()

	score := 0
	if IsNight(hour) {
		score += nightBonus
	}
	if IsWeekend(local.Weekday()) {
		score += weekendBonus
	}
	if score < nightBonus && IsOffHours(hour) {
		score += offHoursBonus
	}
	return score
}

// AmountComponent fires when amount reaches 80% of the daily limit.
func AmountComponent(amount, limit int64) int {
	if limit <= 0 {
		return 0
	}
	if amount*5 >= limit*4 {
		return amountBonus
	}
	return 0
}

// IsNight reports hours in [22, 24) or [0, 6).
func IsNight(hour int) bool {
	return hour >= 22 || hour < 6
}

// IsOffHours reports hours in [18, 22) or [6, 9).
func IsOffHours(hour int) bool {
	return (hour >= 18 && hour < 22) || (hour >= 6 && hour < 9)
}

// IsWeekend reports Saturday and Sunday.
func IsWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
