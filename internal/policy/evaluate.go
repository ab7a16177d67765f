package policy

import (
	"fmt"
	"slices"

	"floodguard/internal/types"
)

// appropriate lists the actions counted as correct for each water state.
var appropriate = map[types.WaterState][]types.AlertAction{
	types.WaterNormal:   {types.ActionNone},
	types.WaterRising:   {types.ActionWatch, types.ActionNone},
	types.WaterHigh:     {types.ActionWarning, types.ActionHigh, types.ActionWatch},
	types.WaterCritical: {types.ActionEvacuate, types.ActionHigh, types.ActionWarning},
}

// Appropriate reports whether action is an acceptable response to ws.
func Appropriate(ws types.WaterState, action types.AlertAction) bool {
	return slices.Contains(appropriate[ws], action)
}

// Sample is one labeled evaluation case. An empty Actual is derived from
// the state's level and rate.
type Sample struct {
	State  State            `json:"state" yaml:"state"`
	Actual types.WaterState `json:"actual_state,omitempty" yaml:"actual_state,omitempty"`
}

// Evaluation summarizes policy quality over a labeled test set.
type Evaluation struct {
	Total             int     `json:"total"`
	Correct           int     `json:"correct"`
	FalsePositives    int     `json:"false_positives"`
	FalseNegatives    int     `json:"false_negatives"`
	Accuracy          float64 `json:"accuracy"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	FalseNegativeRate float64 `json:"false_negative_rate"`
	MeanConfidence    float64 `json:"mean_confidence"`
}

// Gate is the regression check a retrained policy must pass.
type Gate struct {
	MinAccuracy          float64 `json:"min_accuracy"`
	MaxFalseNegativeRate float64 `json:"max_false_negative_rate"`
}

// Passes reports whether the evaluation clears the gate. An empty
// evaluation never passes.
func (e Evaluation) Passes(g Gate) bool {
	return e.Total > 0 && e.Accuracy >= g.MinAccuracy && e.FalseNegativeRate <= g.MaxFalseNegativeRate
}

// Evaluate scores the greedy policy against samples. An action more than one
// level above the true state is a false positive; any other incorrect
// action is a false negative. Unseen states are materialized, so evaluate a
// Clone when the live table must stay untouched.
func (p *Policy) Evaluate(samples []Sample) (Evaluation, error) {
	var e Evaluation
	var confidence float64
	for i, s := range samples {
		actual := s.Actual
		if actual == "" {
			actual = ClassifyWaterState(s.State.WaterLevel, s.State.RateOfChange)
		}
		if !actual.Valid() {
			return Evaluation{}, fmt.Errorf("sample %d: %w: %q", i, ErrUnknownWaterState, s.Actual)
		}

		d := p.Greedy(s.State)
		confidence += d.Confidence
		e.Total++
		switch {
		case Appropriate(actual, d.Action):
			e.Correct++
		case d.Action.Ordinal() > actual.Ordinal()+1:
			e.FalsePositives++
		default:
			e.FalseNegatives++
		}
	}
	if e.Total > 0 {
		n := float64(e.Total)
		e.Accuracy = float64(e.Correct) / n
		e.FalsePositiveRate = float64(e.FalsePositives) / n
		e.FalseNegativeRate = float64(e.FalseNegatives) / n
		e.MeanConfidence = confidence / n
	}
	return e, nil
}
