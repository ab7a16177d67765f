package policy

import (
	"fmt"
	"math"
	"math/rand/v2"

	"floodguard/internal/types"
)

// TransitionTable holds row-stochastic probabilities of moving from one
// water state (row) to another (column) in one simulation step.
type TransitionTable [types.NumWaterStates][types.NumWaterStates]float64

// DefaultTransitions favors persistence with a drift toward neighboring states.
var DefaultTransitions = TransitionTable{
	/* normal */ {0.70, 0.25, 0.04, 0.01},
	/* rising */ {0.10, 0.50, 0.35, 0.05},
	/* high */ {0.05, 0.15, 0.50, 0.30},
	/* critical */ {0.01, 0.04, 0.25, 0.70},
}

// Validate checks that every row is a probability distribution.
func (t TransitionTable) Validate() error {
	for i, row := range t {
		var sum float64
		for _, p := range row {
			if p < 0 || math.IsNaN(p) {
				return fmt.Errorf("transition row %s has invalid probability %v", types.WaterStates[i], p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			return fmt.Errorf("transition row %s sums to %v", types.WaterStates[i], sum)
		}
	}
	return nil
}

// Sample draws the next water state using u ∈ [0,1).
func (t TransitionTable) Sample(from types.WaterState, u float64) types.WaterState {
	row := t[max(0, from.Ordinal())]
	var cum float64
	for i, p := range row {
		cum += p
		if u < cum {
			return types.WaterStates[i]
		}
	}
	return types.WaterStates[len(row)-1]
}

// Representative observation for each water state, used for simulated
// next states and for outcomes reported without an observed next state.
var representative = [types.NumWaterStates]struct{ level, rate float64 }{
	{2, 0},
	{7, 1.5},
	{12, 2},
	{18, 3},
}

const (
	levelJitter     = 1.5
	rateJitter      = 0.5
	precipDecay     = 0.8
	precipNewMaxMM  = 10.0
	initialLevelMax = 20.0
	initialRateMin  = -1.0
	initialRateMax  = 4.0
	initialPrecipMM = 50.0
)

// representativeState builds the canonical observation of a water state.
func representativeState(ws types.WaterState, from State, action types.AlertAction) State {
	rep := representative[max(0, ws.Ordinal())]
	return State{
		WaterLevel:    rep.level,
		RateOfChange:  rep.rate,
		Precipitation: from.Precipitation,
		Night:         from.Night,
		Previous:      action,
	}
}

// sampleNext draws a simulated successor of s after taking action.
func (p *Policy) sampleNext(r *rand.Rand, s State, action types.AlertAction) State {
	from := ClassifyWaterState(s.WaterLevel, s.RateOfChange)
	to := p.transitions.Sample(from, r.Float64())
	rep := representative[to.Ordinal()]
	return State{
		WaterLevel:    math.Max(0, rep.level+(r.Float64()*2-1)*levelJitter),
		RateOfChange:  rep.rate + (r.Float64()*2-1)*rateJitter,
		Precipitation: s.Precipitation*precipDecay + r.Float64()*precipNewMaxMM,
		Night:         s.Night,
		Previous:      action,
	}
}

// randomInitialState draws an episode start.
func randomInitialState(r *rand.Rand) State {
	return State{
		WaterLevel:    r.Float64() * initialLevelMax,
		RateOfChange:  initialRateMin + r.Float64()*(initialRateMax-initialRateMin),
		Precipitation: r.Float64() * initialPrecipMM,
		Night:         r.IntN(2) == 1,
		Previous:      types.ActionNone,
	}
}
