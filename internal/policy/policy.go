// Package policy implements the tabular Q-learning alert policy: state
// quantization, ε-greedy action selection, the one-step update rule, the
// asymmetric reward model, Monte Carlo self-play, evaluation, and
// round-trippable export.
//
// A Policy is owned by exactly one writer. It is NOT safe for concurrent
// use; callers serialize access per location (see internal/monitor).
package policy

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"floodguard/internal/types"
)

// Defaults for Hyperparameters.
const (
	DefaultLearningRate = 0.1
	DefaultDiscount     = 0.95
	DefaultExploration  = 0.1

	// initialValueMax bounds the random values given to a newly seen state.
	initialValueMax = 0.01
	// exploreConfidence is reported for exploratory actions.
	exploreConfidence = 0.5
)

// ErrUnknownAction is returned for actions outside the fixed action set.
var ErrUnknownAction = errors.New("unknown alert action")

// ErrUnknownWaterState is returned for states outside the classification.
var ErrUnknownWaterState = errors.New("unknown water state")

// Hyperparameters are the learning constants of the update rule.
type Hyperparameters struct {
	LearningRate float64 `json:"learning_rate"`
	Discount     float64 `json:"discount_factor"`
	Exploration  float64 `json:"exploration_rate"`
}

// DefaultHyperparameters returns α=0.1, γ=0.95, ε=0.1.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		LearningRate: DefaultLearningRate,
		Discount:     DefaultDiscount,
		Exploration:  DefaultExploration,
	}
}

// Validate checks every parameter is finite and inside its domain.
func (h Hyperparameters) Validate() error {
	switch {
	case !(h.LearningRate > 0 && h.LearningRate <= 1):
		return fmt.Errorf("learning rate %v must be in (0, 1]", h.LearningRate)
	case !(h.Discount >= 0 && h.Discount < 1):
		return fmt.Errorf("discount factor %v must be in [0, 1)", h.Discount)
	case !(h.Exploration >= 0 && h.Exploration <= 1):
		return fmt.Errorf("exploration rate %v must be in [0, 1]", h.Exploration)
	}
	return nil
}

// ActionValues holds one Q-value per action, indexed by action ordinal.
type ActionValues [types.NumAlertActions]float64

// Best returns the highest-valued action, breaking ties by enumeration order.
func (v ActionValues) Best() (types.AlertAction, float64) {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return types.AlertActions[best], v[best]
}

// confidence blends the spread of the values with the magnitude of the best one.
func (v ActionValues) confidence(bestValue float64) float64 {
	var mean float64
	for _, q := range v {
		mean += q
	}
	mean /= float64(len(v))
	var variance float64
	for _, q := range v {
		variance += (q - mean) * (q - mean)
	}
	variance /= float64(len(v))
	return (math.Min(1, variance/10) + math.Min(1, math.Abs(bestValue)/20)) / 2
}

// Decision is the result of one action selection.
type Decision struct {
	Action     types.AlertAction `json:"action"`
	Confidence float64           `json:"confidence"`
	Explored   bool              `json:"explored"`
	State      StateKey          `json:"state"`
}

// Option configures a Policy.
type Option func(*Policy)

// WithHyperparameters overrides the learning constants.
func WithHyperparameters(h Hyperparameters) Option {
	return func(p *Policy) { p.params = h }
}

// WithRewards overrides the reward table.
func WithRewards(t RewardTable) Option {
	return func(p *Policy) { p.rewards = t }
}

// WithTransitions overrides the simulation transition table.
func WithTransitions(t TransitionTable) Option {
	return func(p *Policy) { p.transitions = t }
}

// WithSeed makes exploration, lazy initialization, and simulation
// reproducible.
func WithSeed(seed uint64) Option {
	return func(p *Policy) { p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithRand injects a random source.
func WithRand(r *rand.Rand) Option {
	return func(p *Policy) { p.rng = r }
}

// Policy is an explicitly owned Q-table plus the constants that shape it.
type Policy struct {
	params      Hyperparameters
	rewards     RewardTable
	transitions TransitionTable
	table       map[StateKey]*ActionValues
	rng         *rand.Rand
}

// New constructs an empty policy.
func New(opts ...Option) *Policy {
	p := &Policy{
		params:      DefaultHyperparameters(),
		rewards:     DefaultRewards(),
		transitions: DefaultTransitions,
		table:       make(map[StateKey]*ActionValues),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return p
}

// Hyperparameters returns the learning constants in use.
func (p *Policy) Hyperparameters() Hyperparameters { return p.params }

// Rewards returns the reward table in use.
func (p *Policy) Rewards() RewardTable { return p.rewards }

// Len returns the number of materialized states.
func (p *Policy) Len() int { return len(p.table) }

// Values returns the Q-values of a state without materializing it.
func (p *Policy) Values(k StateKey) (ActionValues, bool) {
	v, ok := p.table[k]
	if !ok {
		return ActionValues{}, false
	}
	return *v, true
}

// Keys returns every materialized state.
func (p *Policy) Keys() []StateKey {
	keys := make([]StateKey, 0, len(p.table))
	for k := range p.table {
		keys = append(keys, k)
	}
	return keys
}

// values returns the row for k, materializing it with small random values
// the first time it is seen.
func (p *Policy) values(k StateKey) *ActionValues {
	if v, ok := p.table[k]; ok {
		return v
	}
	v := new(ActionValues)
	for i := range v {
		v[i] = p.rng.Float64() * initialValueMax
	}
	p.table[k] = v
	return v
}

// SelectAction picks an action ε-greedily. Its only side effect is lazy
// initialization of the state's row.
func (p *Policy) SelectAction(s State) Decision {
	return p.selectKey(p.rng, Key(s))
}

func (p *Policy) selectKey(r *rand.Rand, k StateKey) Decision {
	values := p.values(k)
	if r.Float64() < p.params.Exploration {
		return Decision{
			Action:     types.AlertActions[r.IntN(types.NumAlertActions)],
			Confidence: exploreConfidence,
			Explored:   true,
			State:      k,
		}
	}
	return exploit(k, values)
}

// Greedy picks the best known action without exploring.
func (p *Policy) Greedy(s State) Decision {
	k := Key(s)
	return exploit(k, p.values(k))
}

func exploit(k StateKey, values *ActionValues) Decision {
	action, best := values.Best()
	return Decision{
		Action:     action,
		Confidence: values.confidence(best),
		State:      k,
	}
}

// Update applies one-step Q-learning:
// Q(s,a) ← Q(s,a) + α·(r + γ·max_a' Q(s',a') − Q(s,a)).
func (p *Policy) Update(s State, a types.AlertAction, reward float64, next State) error {
	return p.UpdateKey(Key(s), a, reward, Key(next))
}

// UpdateKey is Update over already-quantized states.
func (p *Policy) UpdateKey(k StateKey, a types.AlertAction, reward float64, next StateKey) error {
	i := a.Ordinal()
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownAction, a)
	}
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return fmt.Errorf("reward %v is not finite", reward)
	}
	cur := p.values(k)
	_, maxNext := p.values(next).Best()
	bound := ValueBound(p.params, p.rewards)
	v := cur[i] + p.params.LearningRate*(reward+p.params.Discount*maxNext-cur[i])
	// Rewards outside the table could push past what Import accepts.
	cur[i] = min(max(v, -bound), bound)
	return nil
}

// Outcome is ground truth observed after an alert decision.
type Outcome struct {
	State           State             `json:"state"`
	Action          types.AlertAction `json:"action"`
	Actual          types.WaterState  `json:"actual_state"`
	MinutesToImpact *float64          `json:"minutes_to_impact,omitempty"`
	// Next is the observed successor. When nil the representative
	// observation of Actual is used.
	Next *State `json:"next_state,omitempty"`
}

// RecordOutcome scores the decision with the reward table, applies the
// update, and returns the reward.
func (p *Policy) RecordOutcome(o Outcome) (float64, error) {
	if !o.Action.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, o.Action)
	}
	if !o.Actual.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownWaterState, o.Actual)
	}
	reward := p.rewards.Reward(o.Action, o.Actual, o.MinutesToImpact)
	next := representativeState(o.Actual, o.State, o.Action)
	if o.Next != nil {
		next = *o.Next
		next.Previous = o.Action
	}
	if err := p.Update(o.State, o.Action, reward, next); err != nil {
		return 0, err
	}
	return reward, nil
}

// Clone deep-copies the policy. The clone gets its own random source
// derived from the original's.
func (p *Policy) Clone() *Policy {
	c := &Policy{
		params:      p.params,
		rewards:     p.rewards,
		transitions: p.transitions,
		table:       make(map[StateKey]*ActionValues, len(p.table)),
		rng:         rand.New(rand.NewPCG(p.rng.Uint64(), p.rng.Uint64())),
	}
	for k, v := range p.table {
		row := *v
		c.table[k] = &row
	}
	return c
}
