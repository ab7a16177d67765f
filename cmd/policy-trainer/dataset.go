package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"floodguard/internal/features"
	"floodguard/internal/policy"
	"floodguard/internal/types"
)

// trainingHorizon is how far ahead the level label of a training vector
// lies. It matches the projection horizon of the feature extractor.
const trainingHorizon = time.Duration(features.ProjectionHours * float64(time.Hour))

// minTrainingSamples is the smallest labeled set worth fitting.
const minTrainingSamples = 10

// evalFile is the YAML layout of an evaluation set:
//
//	samples:
//	  - state: {water_level: 14.2, rate_of_change: 1.5, precipitation: 0.4, night: true}
//	    actual_state: high
type evalFile struct {
	Samples []policy.Sample `yaml:"samples"`
}

// loadSamples reads and checks an evaluation set.
func loadSamples(path string) ([]policy.Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading evaluation set: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f evalFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing evaluation set %s: %w", path, err)
	}
	if len(f.Samples) == 0 {
		return nil, fmt.Errorf("evaluation set %s has no samples", path)
	}
	for i, s := range f.Samples {
		if s.Actual != "" && !s.Actual.Valid() {
			return nil, fmt.Errorf("evaluation set %s: sample %d: unknown actual_state %q", path, i, s.Actual)
		}
		if s.State.Previous != "" && !s.State.Previous.Valid() {
			return nil, fmt.Errorf("evaluation set %s: sample %d: unknown previous_action %q", path, i, s.State.Previous)
		}
	}
	return f.Samples, nil
}

// trainingSet is labeled estimator input.
type trainingSet struct {
	vectors [][]float64
	levels  []float64
	classes []types.RiskLevel
}

// buildTrainingSet labels every reading that has an observation at least
// horizon later. The vector is built from the history up to the reading;
// the labels are the level observed at the horizon and the risk level of the
// water state it represents. readings must be ordered oldest first.
func buildTrainingSet(extractor *features.Extractor, readings []types.Reading, horizon time.Duration) (trainingSet, error) {
	var set trainingSet
	j := 0
	for i, r := range readings {
		target := r.Timestamp.Add(horizon)
		for j < len(readings) && readings[j].Timestamp.Before(target) {
			j++
		}
		if j == len(readings) {
			break
		}
		if !r.Finite() || !readings[j].Finite() {
			continue
		}

		observed := readings[j]
		rate := extractor.Trend(readings[:j+1], observed.Timestamp)
		state := policy.ClassifyWaterState(observed.WaterLevel, rate)

		set.vectors = append(set.vectors, extractor.Vector(readings[:i+1], nil, r.Timestamp))
		set.levels = append(set.levels, observed.WaterLevel)
		set.classes = append(set.classes, state.RiskLevel())
	}
	if len(set.vectors) < minTrainingSamples {
		return trainingSet{}, fmt.Errorf("only %d labeled samples in the reading history; need at least %d", len(set.vectors), minTrainingSamples)
	}
	return set, nil
}
