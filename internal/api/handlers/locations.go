// Package handlers contains the HTTP handlers of the floodguard API.
//
// Every route is scoped to one monitored location:
//   - POST /locations/{locationID}/assessments
//   - GET  /locations/{locationID}/assessments/latest
//   - POST /locations/{locationID}/outcomes
//   - GET  /locations/{locationID}/policy
//   - PUT  /locations/{locationID}/policy (admin)
//   - POST /locations/{locationID}/policy/simulations (admin)
//   - POST /locations/{locationID}/policy/evaluations
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"floodguard/internal/assessment"
	"floodguard/internal/core"
	"floodguard/internal/monitor"
	"floodguard/internal/policy"
	"floodguard/internal/types"
)

const (
	// DefaultReadingLookback is how far back stored readings are loaded
	// when a request carries none.
	DefaultReadingLookback = 24 * time.Hour

	maxPolicyDocumentSize = 16 << 20 // 16 MB
)

// --- Service Interfaces ---

// Monitor is the per-location supervisor.
type Monitor interface {
	Assess(ctx context.Context, in assessment.Input) (types.RiskAssessment, error)
	RecordOutcome(ctx context.Context, locationID string, o monitor.OutcomeReport) (monitor.OutcomeResult, error)
	Simulate(ctx context.Context, locationID string, episodes int) (policy.Simulation, error)
	Evaluate(ctx context.Context, locationID string, samples []policy.Sample) (policy.Evaluation, error)
	ExportPolicy(ctx context.Context, locationID string) ([]byte, error)
	ImportPolicy(ctx context.Context, locationID string, document []byte) error
	LastLevel(ctx context.Context, locationID string) (types.RiskLevel, error)
}

// ReadingStore persists gauge readings. Mirrors db.ReadingRepository.
type ReadingStore interface {
	Insert(ctx context.Context, readings []types.Reading) error
	Since(ctx context.Context, locationID string, since time.Time) ([]types.Reading, error)
}

// AssessmentReader reads stored assessments. Mirrors db.AssessmentRepository.
type AssessmentReader interface {
	Latest(ctx context.Context, locationID string) (*types.RiskAssessment, error)
}

// OutcomeQueue forwards outcomes to the outcome worker. Mirrors
// queue.OutcomePublisher.
type OutcomeQueue interface {
	PublishOutcome(ctx context.Context, locationID string, report monitor.OutcomeReport) (string, error)
}

// --- Request/Response Models ---

// AssessRequest is the body of POST /locations/{locationID}/assessments.
type AssessRequest struct {
	Readings []types.Reading         `json:"readings" validate:"max=10000,dive"`
	Forecast *types.ForecastSnapshot `json:"forecast,omitempty"`
	Metadata types.LocationMetadata  `json:"metadata"`
	// Now overrides the assessment instant, for replaying past data.
	Now *time.Time `json:"now,omitempty"`
}

// QueuedOutcomeResponse answers an outcome handed to the outcome queue.
type QueuedOutcomeResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// SimulateRequest is the body of POST .../policy/simulations.
type SimulateRequest struct {
	Episodes int `json:"episodes" validate:"required,gte=1"`
}

// SimulateResponse reports a finished or interrupted simulation. An
// interrupted run keeps the episodes it completed.
type SimulateResponse struct {
	policy.Simulation
	Interrupted bool `json:"interrupted,omitempty"`
}

// EvaluateRequest is the body of POST .../policy/evaluations.
type EvaluateRequest struct {
	Samples []policy.Sample `json:"samples" validate:"required,min=1,max=100000"`
	Gate    *policy.Gate    `json:"gate,omitempty"`
}

// EvaluateResponse carries the evaluation and, when a gate was sent, the
// verdict.
type EvaluateResponse struct {
	Evaluation policy.Evaluation `json:"evaluation"`
	Passed     *bool             `json:"passed,omitempty"`
}

// --- Handler ---

// LocationHandler serves the location-scoped routes.
type LocationHandler struct {
	monitor      Monitor
	validator    *core.Validator
	logger       *slog.Logger
	clock        types.Clock
	requireAdmin func(http.Handler) http.Handler

	readings    ReadingStore
	assessments AssessmentReader
	outcomes    OutcomeQueue
	lookback    time.Duration
}

// Option configures optional LocationHandler collaborators.
type Option func(*LocationHandler)

// WithReadingStore loads stored readings for requests that carry none and
// stores the readings requests do carry.
func WithReadingStore(rs ReadingStore, lookback time.Duration) Option {
	return func(h *LocationHandler) {
		h.readings = rs
		if lookback > 0 {
			h.lookback = lookback
		}
	}
}

// WithAssessmentReader enables GET .../assessments/latest.
func WithAssessmentReader(ar AssessmentReader) Option {
	return func(h *LocationHandler) { h.assessments = ar }
}

// WithOutcomeQueue forwards outcomes to the queue instead of applying them
// in-process.
func WithOutcomeQueue(q OutcomeQueue) Option {
	return func(h *LocationHandler) { h.outcomes = q }
}

// WithClock sets the clock used for reading lookback.
func WithClock(c types.Clock) Option {
	return func(h *LocationHandler) { h.clock = c }
}

// NewLocationHandler creates a LocationHandler. requireAdmin guards the
// mutating policy routes; nil refuses them all.
func NewLocationHandler(m Monitor, v *core.Validator, l *slog.Logger, requireAdmin func(http.Handler) http.Handler, opts ...Option) *LocationHandler {
	if l == nil {
		l = slog.Default()
	}
	h := &LocationHandler{
		monitor:      m,
		validator:    v,
		logger:       l,
		clock:        types.RealClock{},
		requireAdmin: requireAdmin,
		lookback:     DefaultReadingLookback,
	}
	if h.requireAdmin == nil {
		h.requireAdmin = adminDisabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func adminDisabled(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthAdminKeyInvalid, "admin access is disabled", nil))
	})
}

// RegisterRoutes mounts the location routes on r.
func (h *LocationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/locations/{locationID}", func(r chi.Router) {
		r.Use(h.locationContext)

		r.Post("/assessments", h.Assess)
		if h.assessments != nil {
			r.Get("/assessments/latest", h.LatestAssessment)
		}
		r.Post("/outcomes", h.RecordOutcome)

		r.Route("/policy", func(r chi.Router) {
			r.Get("/", h.ExportPolicy)
			r.Post("/evaluations", h.Evaluate)
			r.Group(func(r chi.Router) {
				r.Use(h.requireAdmin)
				r.Put("/", h.ImportPolicy)
				r.Post("/simulations", h.Simulate)
			})
		})
	})
}

// locationContext validates the location ID and attaches it to the
// context and the request logger.
func (h *LocationHandler) locationContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "locationID")
		if err := h.validator.ValidateLocationID(id); err != nil {
			core.Error(w, r, err)
			return
		}
		ctx := types.WithLocationID(r.Context(), id)
		ctx = types.WithLogger(ctx, types.LoggerFromContext(ctx).With("location_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func locationID(r *http.Request) string {
	return types.GetLocationID(r.Context())
}

// --- Handler Methods ---

// Assess handles POST /locations/{locationID}/assessments.
//
// Readings in the body are stored before assessing. A body without readings
// is assessed against the stored readings of the lookback window; a failed
// load degrades to an empty window rather than failing the request.
func (h *LocationHandler) Assess(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	ctx := r.Context()
	id := locationID(r)
	logger := types.LoggerFromContext(ctx)

	now := h.clock.Now()
	if req.Now != nil {
		now = req.Now.UTC()
	}
	for i := range req.Readings {
		req.Readings[i].LocationID = id
	}

	if h.readings != nil {
		if len(req.Readings) > 0 {
			if err := h.readings.Insert(ctx, req.Readings); err != nil {
				logger.Error("failed to store readings", "count", len(req.Readings), "error", err)
			}
		} else {
			stored, err := h.readings.Since(ctx, id, now.Add(-h.lookback))
			if err != nil {
				logger.Error("failed to load readings, assessing without them", "error", err)
			}
			req.Readings = stored
		}
	}

	a, err := h.monitor.Assess(ctx, assessment.Input{
		LocationID: id,
		Readings:   req.Readings,
		Forecast:   req.Forecast,
		Metadata:   req.Metadata,
		Now:        now,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, a)
}

// LatestAssessment handles GET /locations/{locationID}/assessments/latest.
func (h *LocationHandler) LatestAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := h.assessments.Latest(r.Context(), locationID(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, a)
}

// RecordOutcome handles POST /locations/{locationID}/outcomes. With an
// outcome queue configured the report is forwarded and 202 returned;
// otherwise it is applied at once and the reward returned. A queued report
// without predicted_level carries the level this process last assessed,
// since the worker never sees the assessment.
func (h *LocationHandler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	var report monitor.OutcomeReport
	if err := core.DecodeJSON(w, r, &report); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := validateOutcome(report); err != nil {
		core.Error(w, r, err)
		return
	}

	id := locationID(r)
	if h.outcomes != nil {
		if report.PredictedLevel == "" {
			level, err := h.monitor.LastLevel(r.Context(), id)
			if err != nil {
				core.Error(w, r, err)
				return
			}
			report.PredictedLevel = level
		}
		msgID, err := h.outcomes.PublishOutcome(r.Context(), id, report)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusAccepted, QueuedOutcomeResponse{MessageID: msgID, Status: "queued"})
		return
	}

	res, err := h.monitor.RecordOutcome(r.Context(), id, report)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, res)
}

// validateOutcome rejects enum values before the report reaches the queue,
// where a bad message could only be dropped.
func validateOutcome(o monitor.OutcomeReport) error {
	switch {
	case !o.Action.Valid():
		return types.NewAppError(types.ErrCodeValidationInvalidAction, "action has an unknown value", nil)
	case !o.Actual.Valid():
		return types.NewAppError(types.ErrCodeValidationInvalidState, "actual_state has an unknown value", nil)
	case o.State.Previous != "" && !o.State.Previous.Valid():
		return types.NewAppError(types.ErrCodeValidationInvalidAction, "state.previous_action has an unknown value", nil)
	case o.PredictedLevel != "" && !o.PredictedLevel.Valid():
		return types.NewAppError(types.ErrCodeValidationInvalidState, "predicted_level has an unknown value", nil)
	case o.MinutesToImpact != nil && *o.MinutesToImpact < 0:
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "minutes_to_impact must not be negative", nil)
	}
	return nil
}

// ExportPolicy handles GET /locations/{locationID}/policy.
func (h *LocationHandler) ExportPolicy(w http.ResponseWriter, r *http.Request) {
	doc, err := h.monitor.ExportPolicy(r.Context(), locationID(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="policy-`+locationID(r)+`.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// ImportPolicy handles PUT /locations/{locationID}/policy. The body is a
// document previously produced by ExportPolicy.
func (h *LocationHandler) ImportPolicy(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPolicyDocumentSize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPolicy, "policy document must not exceed 16MB", err))
			return
		}
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, "failed to read request body", err))
		return
	}
	if len(doc) == 0 {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPolicy, "policy document is required", nil))
		return
	}

	if err := h.monitor.ImportPolicy(r.Context(), locationID(r), doc); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.Info("policy imported",
		"location_id", locationID(r),
		"request_id", types.GetRequestID(r.Context()),
		"bytes", len(doc),
	)
	w.WriteHeader(http.StatusNoContent)
}

// Simulate handles POST /locations/{locationID}/policy/simulations. A run
// cut short by the request deadline answers 200 with interrupted set.
func (h *LocationHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sim, err := h.monitor.Simulate(r.Context(), locationID(r), req.Episodes)
	switch {
	case err == nil:
		core.JSON(w, r, http.StatusOK, SimulateResponse{Simulation: sim})
	case sim.Episodes > 0 && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		types.LoggerFromContext(r.Context()).Warn("simulation interrupted",
			"requested", req.Episodes,
			"completed", sim.Episodes,
		)
		core.JSON(w, r, http.StatusOK, SimulateResponse{Simulation: sim, Interrupted: true})
	default:
		core.Error(w, r, err)
	}
}

// Evaluate handles POST /locations/{locationID}/policy/evaluations.
func (h *LocationHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	e, err := h.monitor.Evaluate(r.Context(), locationID(r), req.Samples)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	resp := EvaluateResponse{Evaluation: e}
	if req.Gate != nil {
		passed := e.Passes(*req.Gate)
		resp.Passed = &passed
	}
	core.JSON(w, r, http.StatusOK, resp)
}
