// Package metrics records the engine's operational metrics. Backends share
// the Recorder interface; recording never fails the caller.
package metrics

import (
	"context"
	"time"

	"floodguard/internal/types"
)

// Recorder captures assessment, policy and delivery metrics.
type Recorder interface {
	RecordAssessment(ctx context.Context, a types.RiskAssessment, latency time.Duration)
	RecordReward(ctx context.Context, locationID string, action types.AlertAction, reward float64)
	RecordSimulation(ctx context.Context, locationID string, episodes int)
	RecordMissingSignal(ctx context.Context, estimator string)
	RecordPublishFailure(ctx context.Context, queue string)
}

// Compile-time assertions.
var (
	_ Recorder = NopRecorder{}
	_ Recorder = (*CloudWatchRecorder)(nil)
	_ Recorder = (*PrometheusRecorder)(nil)
)

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordAssessment(context.Context, types.RiskAssessment, time.Duration) {}
func (NopRecorder) RecordReward(context.Context, string, types.AlertAction, float64)     {}
func (NopRecorder) RecordSimulation(context.Context, string, int)                        {}
func (NopRecorder) RecordMissingSignal(context.Context, string)                          {}
func (NopRecorder) RecordPublishFailure(context.Context, string)                         {}
