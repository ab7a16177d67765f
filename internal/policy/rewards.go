package policy

import (
	"fmt"
	"math"

	"floodguard/internal/types"
)

// Water-state thresholds.
const (
	CriticalLevel    = 15.0
	HighLevel        = 10.0
	RisingLevel      = 5.0
	RisingRateOfRise = 1.0

	// timingBonusMinutes is how far ahead of impact an alert must be issued
	// to earn the timing bonus.
	timingBonusMinutes = 60.0
)

// ClassifyWaterState buckets observed ground truth for the reward model.
func ClassifyWaterState(level, rate float64) types.WaterState {
	switch {
	case level >= CriticalLevel:
		return types.WaterCritical
	case level >= HighLevel:
		return types.WaterHigh
	case level >= RisingLevel || rate > RisingRateOfRise:
		return types.WaterRising
	default:
		return types.WaterNormal
	}
}

// RewardTable scores an action against the water state that followed it.
// Rows are indexed by action ordinal, columns by water-state ordinal.
type RewardTable struct {
	Values      [types.NumAlertActions][types.NumWaterStates]float64
	TimingBonus float64
}

// DefaultRewards is asymmetric: missing a critical event costs far more
// than a false alarm.
func DefaultRewards() RewardTable {
	return RewardTable{
		Values: [types.NumAlertActions][types.NumWaterStates]float64{
			//            normal  rising  high   critical
			/* none */ {10, -2, -100, -1000},
			/* watch */ {-2.5, 10, -20, -100},
			/* warning */ {-5, -2, 10, -20},
			/* high */ {-7.5, -5, 10, 20},
			/* evacuate */ {-10, -5, -2, 100},
		},
		TimingBonus: 5,
	}
}

// Reward looks up the base reward and adds the timing bonus for an early
// alert ahead of a high or critical event.
func (t RewardTable) Reward(a types.AlertAction, actual types.WaterState, minutesToImpact *float64) float64 {
	ai, si := a.Ordinal(), actual.Ordinal()
	if ai < 0 || si < 0 {
		return 0
	}
	r := t.Values[ai][si]
	if a != types.ActionNone &&
		(actual == types.WaterHigh || actual == types.WaterCritical) &&
		minutesToImpact != nil && *minutesToImpact > timingBonusMinutes {
		r += t.TimingBonus
	}
	return r
}

// Validate rejects non-finite or out-of-range entries.
func (t RewardTable) Validate() error {
	for ai, row := range t.Values {
		for si, v := range row {
			if !inRange(v) {
				return fmt.Errorf("reward[%s][%s] = %v is out of range", types.AlertActions[ai], types.WaterStates[si], v)
			}
		}
	}
	if !inRange(t.TimingBonus) {
		return fmt.Errorf("timing bonus %v is out of range", t.TimingBonus)
	}
	return nil
}

// MaxAbsValue bounds every imported reward.
const MaxAbsValue = 1e6

// maxAbsReward is the largest reward magnitude Reward can return.
func (t RewardTable) maxAbsReward() float64 {
	var m float64
	for _, row := range t.Values {
		for _, v := range row {
			m = max(m, math.Abs(v))
		}
	}
	return m + math.Abs(t.TimingBonus)
}

// ValueBound is the largest Q-value magnitude reachable from table rewards
// under discount: the update is a convex combination of the old value and
// r + γ·max Q', so |Q| ≤ R/(1−γ) is preserved once it holds.
func ValueBound(h Hyperparameters, t RewardTable) float64 {
	return max(initialValueMax, t.maxAbsReward()/(1-h.Discount))
}

func inRange(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) <= MaxAbsValue
}
