// Package monitor owns the mutable per-location state of the engine: each
// location's alert policy, accuracy log, and last decision.
//
// Every location is served by one actor goroutine, started on first use and
// retired after Config.IdleTimeout without work. All reads and writes of that
// location's state run on its actor, so a Policy is never touched by two
// goroutines at once. Work that does not need the state (the estimator
// fan-out, persistence of finished records) runs on the caller's goroutine.
//
// Several processes may hold the same location: the API, the outcome worker,
// and the offline trainer. Snapshots are versioned. A clean actor picks up a
// newer stored version before it acts, and a save based on an older version
// is rejected, after which the actor reloads the stored policy.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"floodguard/internal/assessment"
	"floodguard/internal/metrics"
	"floodguard/internal/policy"
	"floodguard/internal/risk"
	"floodguard/internal/types"
)

// Defaults for Config.
const (
	DefaultSimulationChunk       = 50
	DefaultMaxSimulationEpisodes = 100_000
	DefaultSnapshotEvery         = 10
	DefaultInboxSize             = 64
	DefaultRefreshInterval       = 5 * time.Second
	DefaultIdleTimeout           = 30 * time.Minute

	hydrateTimeout = 10 * time.Second
	persistTimeout = 5 * time.Second

	queueAssessments = "assessments"
)

// PolicyStore persists exported policy documents under increasing versions.
type PolicyStore interface {
	// LoadPolicy returns the latest snapshot, or the zero snapshot when none
	// exists.
	LoadPolicy(ctx context.Context, locationID string) (types.PolicySnapshot, error)
	// PolicyVersion returns the latest stored version, 0 when none exists.
	PolicyVersion(ctx context.Context, locationID string) (int64, error)
	// SavePolicy stores document as version expected+1 and returns it. When
	// the latest version is not expected it fails with
	// types.ErrCodeConflictStalePolicy.
	SavePolicy(ctx context.Context, locationID string, document []byte, expected int64) (int64, error)
}

// AccuracyStore persists the accuracy log.
type AccuracyStore interface {
	// RecentAccuracy returns up to limit records, oldest first.
	RecentAccuracy(ctx context.Context, locationID string, limit int) ([]types.AccuracyRecord, error)
	AppendAccuracy(ctx context.Context, locationID string, rec types.AccuracyRecord) error
}

// AssessmentStore records emitted assessments.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, a types.RiskAssessment) error
	// Latest restores the last decision when an actor starts.
	Latest(ctx context.Context, locationID string) (*types.RiskAssessment, error)
}

// Publisher fans emitted assessments out to notification delivery.
type Publisher interface {
	PublishAssessment(ctx context.Context, a types.RiskAssessment) error
}

// Predictor is the estimator ensemble.
type Predictor interface {
	Predict(ctx context.Context, vector []float64) types.Prediction
}

// Config tunes the supervisor. Zero fields take package defaults.
type Config struct {
	Hyperparameters policy.Hyperparameters
	// Seed makes every location's policy reproducible when non-zero. Each
	// location derives its own stream from it.
	Seed uint64
	// WarmupEpisodes of Monte Carlo run when a location starts without a
	// stored policy.
	WarmupEpisodes        int
	SimulationChunk       int
	MaxSimulationEpisodes int
	SnapshotEvery         int
	AccuracyLogSize       int
	InboxSize             int
	// RefreshInterval bounds how often a location without unsaved learning
	// asks the store for a newer version. Negative checks before every
	// operation.
	RefreshInterval time.Duration
	// IdleTimeout retires an actor that received no work for that long,
	// saving its unsaved learning first. Negative keeps actors forever.
	IdleTimeout time.Duration
	// DropUnsavedOnClose skips the final save in Close. Consumers that
	// redeliver whatever they could not checkpoint set it.
	DropUnsavedOnClose bool
}

func (c Config) withDefaults() Config {
	if c.Hyperparameters == (policy.Hyperparameters{}) {
		c.Hyperparameters = policy.DefaultHyperparameters()
	}
	if c.SimulationChunk <= 0 {
		c.SimulationChunk = DefaultSimulationChunk
	}
	if c.MaxSimulationEpisodes <= 0 {
		c.MaxSimulationEpisodes = DefaultMaxSimulationEpisodes
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = DefaultSnapshotEvery
	}
	if c.AccuracyLogSize <= 0 {
		c.AccuracyLogSize = risk.DefaultAccuracyLogSize
	}
	if c.InboxSize <= 0 {
		c.InboxSize = DefaultInboxSize
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

// Option wires an optional collaborator.
type Option func(*Supervisor)

// WithPredictor runs the estimator ensemble before every assessment.
func WithPredictor(p Predictor) Option { return func(s *Supervisor) { s.predictor = p } }

// WithPolicyStore restores policies on actor start and persists snapshots.
func WithPolicyStore(p PolicyStore) Option { return func(s *Supervisor) { s.policies = p } }

// WithAccuracyStore restores and persists accuracy records.
func WithAccuracyStore(a AccuracyStore) Option { return func(s *Supervisor) { s.accuracy = a } }

// WithAssessmentStore records every emitted assessment and restores the
// last one when an actor starts.
func WithAssessmentStore(a AssessmentStore) Option {
	return func(s *Supervisor) { s.assessments = a }
}

// WithPublisher publishes every emitted assessment.
func WithPublisher(p Publisher) Option { return func(s *Supervisor) { s.publisher = p } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option { return func(s *Supervisor) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// Supervisor routes work to per-location actors.
type Supervisor struct {
	engine *assessment.Engine
	cfg    Config

	predictor   Predictor
	policies    PolicyStore
	accuracy    AccuracyStore
	assessments AssessmentStore
	publisher   Publisher
	metrics     metrics.Recorder
	logger      *slog.Logger

	mu      sync.Mutex
	actors  map[string]*actor
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor with no running actors.
func NewSupervisor(engine *assessment.Engine, cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		engine:  engine,
		cfg:     cfg.withDefaults(),
		metrics: metrics.NopRecorder{},
		logger:  slog.Default(),
		actors:  make(map[string]*actor),
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// locationState is owned by exactly one actor goroutine.
type locationState struct {
	id         string
	policy     *policy.Policy
	accuracy   *risk.AccuracyLog
	lastAction types.AlertAction
	lastLevel  types.RiskLevel
	// version is the stored snapshot the policy is based on.
	version int64
	// dirty is set while the policy holds learning not yet saved.
	dirty bool
	// checked is when the store's version was last compared.
	checked time.Time
	// outcomes counts recorded outcomes since the last snapshot.
	outcomes   int
	simulating bool
}

type actor struct {
	id    string
	inbox chan func(*locationState)
	done  chan struct{}
}

// Close stops every actor and waits for them to exit. Unsaved learning is
// saved on the way out unless Config.DropUnsavedOnClose is set. Queued work
// that has not started is abandoned with an unavailable error.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()
	s.wg.Wait()
}

// Locations returns the IDs of the locations with a running actor.
func (s *Supervisor) Locations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.actors))
	for id := range s.actors {
		ids = append(ids, id)
	}
	return ids
}

func errClosed() error {
	return types.NewAppError(types.ErrCodeUnavailableMonitorClosed, "monitor is shutting down", nil)
}

func (s *Supervisor) actorFor(id string) (*actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed()
	}
	if a, ok := s.actors[id]; ok {
		return a, nil
	}
	a := &actor{
		id:    id,
		inbox: make(chan func(*locationState), s.cfg.InboxSize),
		done:  make(chan struct{}),
	}
	s.actors[id] = a
	s.wg.Add(1)
	go s.run(a)
	return a, nil
}

func (s *Supervisor) run(a *actor) {
	defer s.wg.Done()
	defer close(a.done)

	st := s.hydrate(a.id)

	var idle <-chan time.Time
	var timer *time.Timer
	if s.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(s.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}
	for {
		select {
		case <-s.closing:
			if !s.cfg.DropUnsavedOnClose {
				s.flush(st)
			}
			return
		case fn := <-a.inbox:
			fn(st)
			if timer != nil {
				timer.Reset(s.cfg.IdleTimeout)
			}
		case <-idle:
			if s.retire(a, st) {
				return
			}
			timer.Reset(s.cfg.IdleTimeout)
		}
	}
}

// flush saves unsaved learning before the actor exits.
func (s *Supervisor) flush(st *locationState) {
	if !st.dirty || s.policies == nil {
		return
	}
	if err := s.saveSnapshot(context.Background(), st); err != nil {
		s.logger.Error("failed to save policy snapshot on shutdown", "location_id", st.id, "error", err)
	}
}

// retire unregisters an idle actor once its learning is saved. It reports
// false when the actor has to keep running.
func (s *Supervisor) retire(a *actor, st *locationState) bool {
	if st.simulating {
		return false
	}
	s.flush(st)
	if st.dirty {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(a.inbox) > 0 {
		return false
	}
	delete(s.actors, a.id)
	s.logger.Debug("location actor retired", "location_id", a.id)
	return true
}

// do runs fn on the location's actor and waits for its result. A message
// whose caller has already given up is skipped. A message left unrun by a
// retired actor is resent to its successor.
func do[T any](ctx context.Context, s *Supervisor, id string, fn func(*locationState) (T, error)) (T, error) {
	var zero T

	type result struct {
		v   T
		err error
	}
	reply := make(chan result, 1)
	msg := func(st *locationState) {
		if err := ctx.Err(); err != nil {
			reply <- result{err: err}
			return
		}
		v, err := fn(st)
		reply <- result{v: v, err: err}
	}

	for {
		a, err := s.actorFor(id)
		if err != nil {
			return zero, err
		}

		select {
		case a.inbox <- msg:
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-a.done:
			continue
		}

		select {
		case r := <-reply:
			return r.v, r.err
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-a.done:
			select {
			case r := <-reply:
				return r.v, r.err
			default:
			}
		}
	}
}

// policyOptions builds the constructor options for a location's policy.
func (s *Supervisor) policyOptions(id string) []policy.Option {
	opts := []policy.Option{policy.WithHyperparameters(s.cfg.Hyperparameters)}
	if s.cfg.Seed != 0 {
		opts = append(opts, policy.WithSeed(s.cfg.Seed^xxhash.Sum64String(id)))
	}
	return opts
}

// hydrate builds a location's state from the stores. Store failures are
// logged and the location starts fresh.
func (s *Supervisor) hydrate(id string) *locationState {
	ctx, cancel := context.WithTimeout(context.Background(), hydrateTimeout)
	defer cancel()
	logger := s.logger.With("location_id", id)

	st := &locationState{
		id:         id,
		policy:     policy.New(s.policyOptions(id)...),
		accuracy:   risk.NewAccuracyLog(s.cfg.AccuracyLogSize),
		lastAction: types.ActionNone,
		checked:    time.Now(),
	}

	restored := false
	if s.policies != nil {
		snap, err := s.policies.LoadPolicy(ctx, id)
		switch {
		case err != nil:
			logger.Error("failed to load policy snapshot", "error", err)
		case snap.Document != nil:
			if err := st.policy.Import(snap.Document); err != nil {
				logger.Error("discarding invalid policy snapshot", "version", snap.Version, "error", err)
			} else {
				restored = true
			}
			fallthrough
		default:
			st.version = snap.Version
		}
	}
	if !restored && s.cfg.WarmupEpisodes > 0 {
		sim, err := st.policy.RunMonteCarlo(ctx, s.cfg.WarmupEpisodes)
		if err != nil {
			logger.Warn("policy warm-up interrupted", "episodes", sim.Episodes, "error", err)
		}
		s.metrics.RecordSimulation(ctx, id, sim.Episodes)
	}

	s.loadAccuracy(ctx, st)

	if s.assessments != nil {
		last, err := s.assessments.Latest(ctx, id)
		var appErr *types.AppError
		switch {
		case err == nil && last != nil:
			st.lastLevel = last.Level
			if last.PolicyAction.Valid() {
				st.lastAction = last.PolicyAction
			}
		case errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundLocation:
		case err != nil:
			logger.Warn("failed to load last assessment", "error", err)
		}
	}

	logger.Info("location actor started", "restored_policy", restored, "version", st.version,
		"states", st.policy.Len(), "accuracy_records", st.accuracy.Len())
	return st
}

func (s *Supervisor) loadAccuracy(ctx context.Context, st *locationState) {
	if s.accuracy == nil {
		return
	}
	records, err := s.accuracy.RecentAccuracy(ctx, st.id, s.cfg.AccuracyLogSize)
	if err != nil {
		s.logger.Error("failed to load accuracy records", "location_id", st.id, "error", err)
		return
	}
	acc := risk.NewAccuracyLog(s.cfg.AccuracyLogSize)
	acc.Append(records...)
	st.accuracy = acc
}

// refresh reloads the location when another writer has stored a newer
// version. Locations holding unsaved learning are left alone; their next save
// settles it. force skips Config.RefreshInterval.
func (s *Supervisor) refresh(ctx context.Context, st *locationState, force bool) {
	if s.policies == nil || st.dirty {
		return
	}
	if !force && s.cfg.RefreshInterval > 0 && time.Since(st.checked) < s.cfg.RefreshInterval {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	st.checked = time.Now()
	v, err := s.policies.PolicyVersion(ctx, st.id)
	if err != nil {
		s.logger.Warn("failed to check policy version", "location_id", st.id, "error", err)
		return
	}
	if v > st.version {
		s.reload(ctx, st)
	}
}

// reload replaces the policy and accuracy log with the stored ones and drops
// unsaved learning.
func (s *Supervisor) reload(ctx context.Context, st *locationState) {
	logger := s.logger.With("location_id", st.id)
	snap, err := s.policies.LoadPolicy(ctx, st.id)
	if err != nil {
		logger.Error("failed to reload policy snapshot", "error", err)
		return
	}
	if snap.Document != nil {
		p := policy.New(s.policyOptions(st.id)...)
		if err := p.Import(snap.Document); err != nil {
			logger.Error("discarding invalid policy snapshot", "version", snap.Version, "error", err)
		} else {
			st.policy = p
		}
	}
	from := st.version
	st.version = snap.Version
	st.dirty = false
	st.outcomes = 0
	s.loadAccuracy(ctx, st)
	logger.Info("policy reloaded", "from_version", from, "version", st.version)
}

// saveSnapshot persists the current policy on top of the version it is based
// on. A stale save reloads the stored policy and returns the conflict.
// Called on the actor.
func (s *Supervisor) saveSnapshot(ctx context.Context, st *locationState) error {
	if s.policies == nil {
		return nil
	}
	data, err := st.policy.Export()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	v, err := s.policies.SavePolicy(ctx, st.id, data, st.version)
	if err != nil {
		if isStale(err) {
			s.logger.Warn("policy snapshot is stale, discarding unsaved learning",
				"location_id", st.id, "version", st.version)
			s.reload(ctx, st)
		}
		return err
	}
	st.version = v
	st.dirty = false
	st.outcomes = 0
	st.checked = time.Now()
	return nil
}

func isStale(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictStalePolicy
}
