package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodguard/internal/assessment"
	"floodguard/internal/monitor"
	"floodguard/internal/policy"
	"floodguard/internal/types"
)

// --- Mock Types ---

type appliedOutcome struct {
	locationID string
	action     types.AlertAction
}

// mockApplier records outcomes and fails on configured actions.
type mockApplier struct {
	applied       []appliedOutcome
	checkpoints   []string
	failAction    types.AlertAction
	failErr       error
	checkpointErr error
	closed        bool
}

func (m *mockApplier) RecordOutcome(_ context.Context, locationID string, o monitor.OutcomeReport) (monitor.OutcomeResult, error) {
	if o.Action == m.failAction {
		if m.failErr != nil {
			return monitor.OutcomeResult{}, m.failErr
		}
		return monitor.OutcomeResult{}, types.NewAppError(types.ErrCodeUnavailableMonitorClosed, "monitor is shutting down", nil)
	}
	m.applied = append(m.applied, appliedOutcome{locationID: locationID, action: o.Action})
	return monitor.OutcomeResult{Reward: 1}, nil
}

func (m *mockApplier) Checkpoint(_ context.Context, locationID string) error {
	m.checkpoints = append(m.checkpoints, locationID)
	return m.checkpointErr
}

func (m *mockApplier) Close() { m.closed = true }

// memPolicies is an in-memory monitor.PolicyStore.
type memPolicies struct {
	mu       sync.Mutex
	docs     map[string][]byte
	versions map[string]int64
	saves    int
	// bumpBeforeSave simulates another writer saving first.
	bumpBeforeSave int
}

func newMemPolicies() *memPolicies {
	return &memPolicies{docs: make(map[string][]byte), versions: make(map[string]int64)}
}

func (p *memPolicies) LoadPolicy(_ context.Context, id string) (types.PolicySnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.PolicySnapshot{Document: p.docs[id], Version: p.versions[id]}, nil
}

func (p *memPolicies) PolicyVersion(_ context.Context, id string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.versions[id], nil
}

func (p *memPolicies) SavePolicy(_ context.Context, id string, doc []byte, expected int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bumpBeforeSave > 0 {
		p.bumpBeforeSave--
		p.versions[id]++
	}
	if p.versions[id] != expected {
		return 0, types.NewAppError(types.ErrCodeConflictStalePolicy, "stale", nil)
	}
	p.docs[id] = append([]byte(nil), doc...)
	p.versions[id]++
	p.saves++
	return p.versions[id], nil
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(m *mockApplier) *Handler {
	return &Handler{
		newApplier: func() OutcomeApplier { return m },
		logger:     testLogger(),
	}
}

func outcomeRecord(messageID, locationID string, action types.AlertAction, actual types.WaterState) events.SQSMessage {
	body := fmt.Sprintf(`{"id":"out-%s","location_id":%q,"report":{"state":{"water_level":9,"rate_of_change":1.5},"action":%q,"actual_state":%q}}`,
		messageID, locationID, action, actual)
	return events.SQSMessage{MessageId: messageID, Body: body}
}

func failureIDs(resp events.SQSEventResponse) []string {
	ids := make([]string, 0, len(resp.BatchItemFailures))
	for _, f := range resp.BatchItemFailures {
		ids = append(ids, f.ItemIdentifier)
	}
	return ids
}

// --- Tests ---

func TestHandle_GroupsByLocationInOrder(t *testing.T) {
	m := &mockApplier{}
	h := newTestHandler(m)

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		outcomeRecord("m1", "river-1", types.ActionWatch, types.WaterRising),
		outcomeRecord("m2", "river-2", types.ActionNone, types.WaterNormal),
		outcomeRecord("m3", "river-1", types.ActionWarning, types.WaterHigh),
	}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	assert.Equal(t, []appliedOutcome{
		{"river-1", types.ActionWatch},
		{"river-1", types.ActionWarning},
		{"river-2", types.ActionNone},
	}, m.applied)
	assert.Equal(t, []string{"river-1", "river-2"}, m.checkpoints)
	assert.True(t, m.closed)
}

func TestHandle_MalformedRecordsFail(t *testing.T) {
	m := &mockApplier{}
	h := newTestHandler(m)

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bad-json", Body: "{"},
		outcomeRecord("bad-action", "river-1", "siren", types.WaterHigh),
		outcomeRecord("ok", "river-1", types.ActionWatch, types.WaterRising),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad-json", "bad-action"}, failureIDs(resp))
	assert.Len(t, m.applied, 1)
}

func TestHandle_OnlyMalformedSkipsSupervisor(t *testing.T) {
	built := false
	h := &Handler{
		newApplier: func() OutcomeApplier { built = true; return &mockApplier{} },
		logger:     testLogger(),
	}

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{{MessageId: "m1", Body: "not json"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, failureIDs(resp))
	assert.False(t, built)
}

func TestHandle_FailureStopsLocation(t *testing.T) {
	m := &mockApplier{failAction: types.ActionHigh}
	h := newTestHandler(m)

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		outcomeRecord("m1", "river-1", types.ActionWatch, types.WaterRising),
		outcomeRecord("m2", "river-1", types.ActionHigh, types.WaterHigh),
		outcomeRecord("m3", "river-1", types.ActionWarning, types.WaterHigh),
		outcomeRecord("m4", "river-2", types.ActionNone, types.WaterNormal),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, failureIDs(resp), "later outcomes of the location wait for redelivery")
	assert.Len(t, m.applied, 2)
	assert.Equal(t, []string{"river-1", "river-2"}, m.checkpoints, "applied outcomes are still persisted")
}

func TestHandle_CheckpointFailureRedeliversLocation(t *testing.T) {
	m := &mockApplier{checkpointErr: errors.New("connection reset")}
	h := newTestHandler(m)

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		outcomeRecord("m1", "river-1", types.ActionWatch, types.WaterRising),
		outcomeRecord("m2", "river-1", types.ActionWarning, types.WaterHigh),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, failureIDs(resp))
}

func TestHandle_PersistsLearnedPolicy(t *testing.T) {
	store := newMemPolicies()
	engine := assessment.NewEngine(assessment.Params{}, nil)
	h := &Handler{
		newApplier: func() OutcomeApplier {
			return monitor.NewSupervisor(engine, monitor.Config{Seed: 5, SnapshotEvery: 1 << 30},
				monitor.WithPolicyStore(store),
				monitor.WithLogger(testLogger()),
			)
		},
		logger: testLogger(),
	}

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		outcomeRecord("m1", "river-1", types.ActionWatch, types.WaterRising),
		outcomeRecord("m2", "river-1", types.ActionWatch, types.WaterRising),
	}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 1, store.saves, "one snapshot per location per batch")

	p := policy.New()
	require.NoError(t, p.Import(store.docs["river-1"]))
	assert.Positive(t, p.Len())

	// The next batch starts from the stored snapshot.
	_, err = h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		outcomeRecord("m3", "river-1", types.ActionWatch, types.WaterRising),
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, store.saves)
}

func TestHandle_StaleSnapshotRedeliversLocation(t *testing.T) {
	store := newMemPolicies()
	store.bumpBeforeSave = 1
	engine := assessment.NewEngine(assessment.Params{}, nil)
	h := &Handler{
		newApplier: func() OutcomeApplier {
			return monitor.NewSupervisor(engine, monitor.Config{Seed: 5, SnapshotEvery: 1 << 30, DropUnsavedOnClose: true},
				monitor.WithPolicyStore(store),
				monitor.WithLogger(testLogger()),
			)
		},
		logger: testLogger(),
	}
	batch := events.SQSEvent{Records: []events.SQSMessage{
		outcomeRecord("m1", "river-1", types.ActionWatch, types.WaterRising),
		outcomeRecord("m2", "river-1", types.ActionWatch, types.WaterRising),
		outcomeRecord("m3", "river-2", types.ActionNone, types.WaterNormal),
	}}

	resp, err := h.Handle(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, failureIDs(resp))
	assert.Equal(t, 1, store.saves, "only river-2 is saved")

	resp, err = h.Handle(context.Background(), events.SQSEvent{Records: batch.Records[:2]})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, int64(2), store.versions["river-1"], "redelivery lands on top of the newer version")
}

func TestHandle_StaleOutcomeRedeliversWholeLocation(t *testing.T) {
	m := &mockApplier{failAction: types.ActionHigh, failErr: types.NewAppError(types.ErrCodeConflictStalePolicy, "stale", nil)}
	h := newTestHandler(m)

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		outcomeRecord("m1", "river-1", types.ActionWatch, types.WaterRising),
		outcomeRecord("m2", "river-1", types.ActionHigh, types.WaterHigh),
		outcomeRecord("m3", "river-1", types.ActionWarning, types.WaterHigh),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, failureIDs(resp))
}

func TestRunLocal(t *testing.T) {
	m := &mockApplier{}
	h := newTestHandler(m)

	event := events.SQSEvent{Records: []events.SQSMessage{
		outcomeRecord("m1", "river-1", types.ActionWatch, types.WaterRising),
		{MessageId: "m2", Body: "{"},
	}}
	in, err := json.Marshal(event)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runLocal(context.Background(), h, bytes.NewReader(in), &out, testLogger()))

	var resp events.SQSEventResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, []string{"m2"}, failureIDs(resp))

	err = runLocal(context.Background(), h, strings.NewReader(""), &out, testLogger())
	assert.Error(t, err)
}
