package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"floodguard/internal/assessment"
	"floodguard/internal/policy"
	"floodguard/internal/types"
)

// Assess runs one full assessment cycle for in.LocationID: the estimator
// ensemble, the forward path, action selection, and aggregation. The
// location's accuracy log replaces in.History and its last assessed level
// feeds hysteresis. Persisting and publishing the result never fails the call.
func (s *Supervisor) Assess(ctx context.Context, in assessment.Input) (types.RiskAssessment, error) {
	if in.LocationID == "" {
		return types.RiskAssessment{}, types.NewAppError(types.ErrCodeValidationMissingField, "location_id is required", nil)
	}
	start := time.Now()
	// Pin the instant so the feature vector and the assessment agree.
	in.Now = s.engine.Now(in)

	if s.predictor != nil && in.Prediction == nil {
		p := s.predictor.Predict(ctx, s.engine.Vector(in))
		for _, signal := range p.Missing {
			s.metrics.RecordMissingSignal(ctx, signal)
		}
		in.Prediction = &p
	}

	a, err := do(ctx, s, in.LocationID, func(st *locationState) (types.RiskAssessment, error) {
		s.refresh(ctx, st, false)
		in.History = st.accuracy.Snapshot()
		in.PreviousLevel = st.lastLevel
		base := s.engine.Assess(in)
		d := st.policy.SelectAction(assessment.PolicyState(in, base, st.lastAction))
		out := assessment.Aggregate(base, d)
		st.lastAction = d.Action
		st.lastLevel = out.Level
		return out, nil
	})
	if err != nil {
		return types.RiskAssessment{}, err
	}

	s.metrics.RecordAssessment(ctx, a, time.Since(start))
	s.emit(ctx, a)
	return a, nil
}

func (s *Supervisor) emit(ctx context.Context, a types.RiskAssessment) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	logger := types.LoggerFromContext(ctx).With("location_id", a.LocationID, "assessment_id", a.ID)

	if s.assessments != nil {
		if err := s.assessments.SaveAssessment(ctx, a); err != nil {
			logger.Error("failed to save assessment", "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishAssessment(ctx, a); err != nil {
			logger.Error("failed to publish assessment", "error", err)
			s.metrics.RecordPublishFailure(ctx, queueAssessments)
		}
	}
}

// OutcomeReport is ground truth for one past decision.
type OutcomeReport struct {
	policy.Outcome
	// PredictedLevel is the level that was assessed for the decision. Empty
	// means the location's last assessed level.
	PredictedLevel types.RiskLevel `json:"predicted_level,omitempty"`
	ObservedAt     time.Time       `json:"observed_at,omitempty"`
}

// OutcomeResult reports what an outcome changed.
type OutcomeResult struct {
	Reward float64 `json:"reward"`
	// Accuracy is nil when no assessed level was known to grade.
	Accuracy *types.AccuracyRecord `json:"accuracy,omitempty"`
	Snapshot bool                  `json:"snapshot_saved"`
}

// RecordOutcome applies the reward update for a past decision and grades
// the assessed level against the observed water state. Every
// Config.SnapshotEvery outcomes the policy is persisted. When that save finds
// a newer stored version the location is reloaded without this outcome and
// the conflict is returned so the outcome can be sent again.
func (s *Supervisor) RecordOutcome(ctx context.Context, locationID string, o OutcomeReport) (OutcomeResult, error) {
	if locationID == "" {
		return OutcomeResult{}, types.NewAppError(types.ErrCodeValidationMissingField, "location_id is required", nil)
	}
	if o.ObservedAt.IsZero() {
		o.ObservedAt = time.Now().UTC()
	}

	res, err := do(ctx, s, locationID, func(st *locationState) (OutcomeResult, error) {
		s.refresh(ctx, st, false)
		reward, err := st.policy.RecordOutcome(o.Outcome)
		if err != nil {
			return OutcomeResult{}, outcomeError(err)
		}
		st.dirty = true
		res := OutcomeResult{Reward: reward}

		predicted := o.PredictedLevel
		if predicted == "" {
			predicted = st.lastLevel
		}
		if predicted.Valid() {
			rec := st.accuracy.Record(predicted, o.Actual.RiskLevel(), o.ObservedAt)
			res.Accuracy = &rec
		}

		st.outcomes++
		if st.outcomes >= s.cfg.SnapshotEvery && s.policies != nil {
			err := s.saveSnapshot(ctx, st)
			switch {
			case isStale(err):
				return OutcomeResult{}, err
			case err != nil:
				s.logger.Error("failed to save policy snapshot", "location_id", locationID, "error", err)
			default:
				res.Snapshot = true
			}
		}
		return res, nil
	})
	if err != nil {
		return OutcomeResult{}, err
	}

	s.metrics.RecordReward(ctx, locationID, o.Action, res.Reward)
	if res.Accuracy != nil && s.accuracy != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := s.accuracy.AppendAccuracy(pctx, locationID, *res.Accuracy); err != nil {
			types.LoggerFromContext(ctx).Error("failed to save accuracy record", "location_id", locationID, "error", err)
		}
	}
	return res, nil
}

func outcomeError(err error) error {
	switch {
	case errors.Is(err, policy.ErrUnknownAction):
		return types.NewAppError(types.ErrCodeValidationInvalidAction, err.Error(), err)
	case errors.Is(err, policy.ErrUnknownWaterState):
		return types.NewAppError(types.ErrCodeValidationInvalidState, err.Error(), err)
	default:
		return types.NewAppError(types.ErrCodeValidationInvalidState, "outcome rejected", err)
	}
}

// Simulate improves a location's policy with Monte Carlo self-play. The run
// is split into chunks of Config.SimulationChunk episodes, each its own actor
// message, so assessments for the location interleave with training. On
// cancellation the summary of the completed episodes is returned with the
// context error. Only one simulation per location runs at a time. Training
// starts from the newest stored version; if another writer saves first, the
// run is discarded and the stale-policy conflict is returned.
func (s *Supervisor) Simulate(ctx context.Context, locationID string, episodes int) (policy.Simulation, error) {
	if episodes <= 0 || episodes > s.cfg.MaxSimulationEpisodes {
		return policy.Simulation{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody,
			"episodes out of range", nil,
			map[string]any{"min": 1, "max": s.cfg.MaxSimulationEpisodes})
	}

	_, err := do(ctx, s, locationID, func(st *locationState) (struct{}, error) {
		if st.simulating {
			return struct{}{}, types.NewAppError(types.ErrCodeConflictSimulationRunning, "a simulation is already running for this location", nil)
		}
		s.refresh(ctx, st, true)
		st.simulating = true
		return struct{}{}, nil
	})
	if err != nil {
		return policy.Simulation{}, err
	}
	defer func() {
		_, _ = do(context.WithoutCancel(ctx), s, locationID, func(st *locationState) (struct{}, error) {
			st.simulating = false
			return struct{}{}, nil
		})
	}()

	var total policy.Simulation
	for remaining := episodes; remaining > 0; {
		n := min(s.cfg.SimulationChunk, remaining)
		sim, err := do(ctx, s, locationID, func(st *locationState) (policy.Simulation, error) {
			sim, err := st.policy.RunMonteCarlo(ctx, n)
			if sim.Episodes > 0 {
				st.dirty = true
			}
			return sim, err
		})
		total.Add(sim)
		remaining -= sim.Episodes
		if err != nil {
			s.metrics.RecordSimulation(ctx, locationID, total.Episodes)
			return total, err
		}
	}
	s.metrics.RecordSimulation(ctx, locationID, total.Episodes)

	_, err = do(ctx, s, locationID, func(st *locationState) (struct{}, error) {
		err := s.saveSnapshot(ctx, st)
		switch {
		case isStale(err):
			return struct{}{}, err
		case err != nil:
			s.logger.Error("failed to save policy snapshot", "location_id", locationID, "error", err)
		}
		return struct{}{}, nil
	})
	return total, err
}

// Evaluate scores a copy of the location's policy, so the live table is
// never materialized by the test set.
func (s *Supervisor) Evaluate(ctx context.Context, locationID string, samples []policy.Sample) (policy.Evaluation, error) {
	clone, err := do(ctx, s, locationID, func(st *locationState) (*policy.Policy, error) {
		s.refresh(ctx, st, false)
		return st.policy.Clone(), nil
	})
	if err != nil {
		return policy.Evaluation{}, err
	}
	e, err := clone.Evaluate(samples)
	if err != nil {
		return policy.Evaluation{}, types.NewAppError(types.ErrCodeValidationInvalidState, err.Error(), err)
	}
	return e, nil
}

// ExportPolicy returns the location's policy document.
func (s *Supervisor) ExportPolicy(ctx context.Context, locationID string) ([]byte, error) {
	return do(ctx, s, locationID, func(st *locationState) ([]byte, error) {
		s.refresh(ctx, st, false)
		return st.policy.Export()
	})
}

// LastLevel returns the location's most recently assessed level, empty when
// none is known.
func (s *Supervisor) LastLevel(ctx context.Context, locationID string) (types.RiskLevel, error) {
	return do(ctx, s, locationID, func(st *locationState) (types.RiskLevel, error) {
		return st.lastLevel, nil
	})
}

// ImportPolicy replaces the location's policy with document and persists
// it as the newest version, discarding unsaved learning. A rejected document
// leaves the policy untouched.
func (s *Supervisor) ImportPolicy(ctx context.Context, locationID string, document []byte) error {
	_, err := do(ctx, s, locationID, func(st *locationState) (struct{}, error) {
		p := policy.New(s.policyOptions(locationID)...)
		if err := p.Import(document); err != nil {
			return struct{}{}, types.NewAppError(types.ErrCodeValidationInvalidPolicy, err.Error(), err)
		}
		if s.policies == nil {
			st.policy = p
			return struct{}{}, nil
		}

		v, err := s.policies.PolicyVersion(ctx, locationID)
		if err != nil {
			return struct{}{}, types.NewAppError(types.ErrCodeInternalDB, "policy not imported", err)
		}
		prev, prevVersion, prevDirty := st.policy, st.version, st.dirty
		st.policy, st.version, st.dirty = p, v, true
		if err := s.saveSnapshot(ctx, st); err != nil {
			if isStale(err) {
				return struct{}{}, err
			}
			st.policy, st.version, st.dirty = prev, prevVersion, prevDirty
			return struct{}{}, types.NewAppError(types.ErrCodeInternalDB, "policy not imported", fmt.Errorf("save snapshot: %w", err))
		}
		return struct{}{}, nil
	})
	return err
}

// Checkpoint persists unsaved learning now and resets the snapshot counter.
// Batch consumers call it once per batch instead of relying on
// Config.SnapshotEvery. A stale snapshot returns the conflict after the
// location is reloaded.
func (s *Supervisor) Checkpoint(ctx context.Context, locationID string) error {
	if s.policies == nil {
		return nil
	}
	_, err := do(ctx, s, locationID, func(st *locationState) (struct{}, error) {
		if !st.dirty {
			return struct{}{}, nil
		}
		if err := s.saveSnapshot(ctx, st); err != nil {
			if isStale(err) {
				return struct{}{}, err
			}
			return struct{}{}, types.NewAppError(types.ErrCodeInternalDB, "failed to save policy snapshot", err)
		}
		return struct{}{}, nil
	})
	return err
}
