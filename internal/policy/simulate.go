package policy

import (
	"context"

	"floodguard/internal/risk"
	"floodguard/internal/types"
)

// EpisodeSteps is the length of one simulated episode.
const EpisodeSteps = 10

// Simulation summarizes a Monte Carlo run.
type Simulation struct {
	Episodes      int     `json:"episodes"`
	Steps         int     `json:"steps"`
	TotalReward   float64 `json:"total_reward"`
	MeanReward    float64 `json:"mean_reward"`
	StatesVisited int     `json:"states_visited"`
}

// Add folds another summary into s.
func (s *Simulation) Add(o Simulation) {
	s.Episodes += o.Episodes
	s.Steps += o.Steps
	s.TotalReward += o.TotalReward
	s.StatesVisited = o.StatesVisited
	if s.Steps > 0 {
		s.MeanReward = s.TotalReward / float64(s.Steps)
	}
}

type transition struct {
	from, to StateKey
	action   types.AlertAction
	reward   float64
}

// RunMonteCarlo improves the policy through self-play. Cancellation is
// checked between episodes; on cancellation the summary of the completed
// episodes is returned along with ctx.Err().
func (p *Policy) RunMonteCarlo(ctx context.Context, episodes int) (Simulation, error) {
	var sim Simulation
	trajectory := make([]transition, 0, EpisodeSteps)
	for i := 0; i < episodes; i++ {
		if err := ctx.Err(); err != nil {
			sim.StatesVisited = len(p.table)
			return sim, err
		}

		trajectory = trajectory[:0]
		state := randomInitialState(p.rng)
		for step := 0; step < EpisodeSteps; step++ {
			key := Key(state)
			d := p.selectKey(p.rng, key)
			next := p.sampleNext(p.rng, state, d.Action)
			actual := ClassifyWaterState(next.WaterLevel, next.RateOfChange)
			impact := risk.TimeToImpact(next.RateOfChange, next.WaterLevel, CriticalLevel)
			trajectory = append(trajectory, transition{
				from:   key,
				to:     Key(next),
				action: d.Action,
				reward: p.rewards.Reward(d.Action, actual, impact),
			})
			state = next
		}

		for _, t := range trajectory {
			// Actions come from the fixed set and rewards from the table,
			// so the update cannot fail here.
			_ = p.UpdateKey(t.from, t.action, t.reward, t.to)
			sim.TotalReward += t.reward
		}
		sim.Steps += len(trajectory)
		sim.Episodes++
	}
	sim.StatesVisited = len(p.table)
	if sim.Steps > 0 {
		sim.MeanReward = sim.TotalReward / float64(sim.Steps)
	}
	return sim, nil
}
