package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/organ.projection/internal/config"
	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/metrics"
	"github.com/banshee-data/organ.projection/internal/organ"
	"github.com/banshee-data/organ.projection/internal/registration"
	"github.com/banshee-data/organ.projection/internal/storage/sqlite"
	"github.com/banshee-data/organ.projection/internal/timeutil"
)

var (
	// ErrNotImplemented is returned by pipeline features that are declared
	// but have no implementation.
	ErrNotImplemented = errors.New("pipeline: not implemented")

	// ErrNoRun is returned when a result of the last run is requested
	// before any run has completed.
	ErrNoRun = errors.New("pipeline: no completed run")
)

// RunRecorder receives the lifecycle of every run. *sqlite.RunStore
// implements it. Recording failures are logged and never fail a run.
type RunRecorder interface {
	StartRun(run *sqlite.Run) error
	RecordStage(rec *sqlite.StageRecord) error
	FinishRun(runID string) error
	FailRun(runID string, cause error) error
}

// Config holds everything a Pipeline needs.
type Config struct {
	Name        string
	Description string
	Params      *config.Registration

	Matcher registration.FeatureMatcher
	Refiner registration.Refiner
	Solver  registration.NonrigidSolver

	// Recorder is optional.
	Recorder RunRecorder

	// NormalNeighbours is the k used when organ surfaces are turned into
	// point clouds. Zero uses geometry.DefaultNormalNeighbours.
	NormalNeighbours int

	// Clock stamps projections and run records. Nil uses the wall clock.
	Clock timeutil.Clock
}

// Pipeline aligns organ pairs with one parameter set. Run calls are
// serialized.
type Pipeline struct {
	name        string
	description string
	params      *config.Registration
	stages      *registration.Stages
	recorder    RunRecorder
	k           int
	clock       timeutil.Clock

	mu      sync.Mutex
	last    *Projection
	results []*registration.Result
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Name == "" {
		return nil, errors.New("pipeline: name is required")
	}
	stages, err := registration.NewStages(cfg.Params, cfg.Matcher, cfg.Refiner, cfg.Solver)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", cfg.Name, err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pipeline{
		name:        cfg.Name,
		description: cfg.Description,
		params:      cfg.Params,
		stages:      stages,
		recorder:    cfg.Recorder,
		k:           cfg.NormalNeighbours,
		clock:       clock,
	}, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Run registers source onto target and returns the projection. Both
// organs are copied first and are never modified. Any stage failure
// aborts the run; no partial projection is returned.
func (p *Pipeline) Run(ctx context.Context, source, target *organ.Organ) (*Projection, error) {
	if source == nil || target == nil {
		return nil, errors.New("pipeline: source and target organs are required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	src, tgt := source.Clone(), target.Clone()
	r := &runner{id: uuid.New().String(), recorder: p.recorder, clock: p.clock}
	r.start(p, src, tgt)
	opsf("run %s: registering %s onto %s", r.id, src.Name, tgt.Name)

	srcPC, tgtPC := src.PointCloud(p.k), tgt.PointCloud(p.k)

	rigidNorm, err := r.stage(registration.StageNormalizeRigid, func() (*registration.Result, error) {
		return registration.NormalizeRigid(srcPC, tgtPC)
	})
	if err != nil {
		return nil, r.fail(err)
	}
	normSrc := rigidNorm.Output(registration.RoleSource)
	normTgt := rigidNorm.Output(registration.RoleTarget)

	global, err := r.stage(registration.StageGlobalRegistration, func() (*registration.Result, error) {
		return p.stages.GlobalRegistration(normSrc, normTgt)
	})
	if err != nil {
		return nil, r.fail(err)
	}

	refined, err := r.stage(registration.StageRefineRegistration, func() (*registration.Result, error) {
		return p.stages.RefineRegistration(normSrc, normTgt, global.Transform(registration.RoleSource))
	})
	if err != nil {
		return nil, r.fail(err)
	}

	nonrigidNorm, err := r.stage(registration.StageNormalizeNonrigid, func() (*registration.Result, error) {
		return registration.NormalizeNonrigid(refined.Output(registration.RoleSource), normTgt)
	})
	if err != nil {
		return nil, r.fail(err)
	}

	deformed, err := r.stage(registration.StageNonrigidRegistration, func() (*registration.Result, error) {
		return p.stages.NonrigidRegistration(ctx,
			nonrigidNorm.Output(registration.RoleSource),
			nonrigidNorm.Output(registration.RoleTarget))
	})
	if err != nil {
		return nil, r.fail(err)
	}

	// Both denormalizations only move the registered source; it is passed
	// as target too.
	out := deformed.Output(registration.RoleSource)
	nonrigidDenorm, err := r.stage(registration.StageDenormalizeNonrigid, func() (*registration.Result, error) {
		return registration.DenormalizeNonrigid(out, out, nonrigidNorm)
	})
	if err != nil {
		return nil, r.fail(err)
	}

	out = nonrigidDenorm.Output(registration.RoleSource)
	rigidDenorm, err := r.stage(registration.StageDenormalizeRigid, func() (*registration.Result, error) {
		return registration.DenormalizeRigid(out, out, rigidNorm)
	})
	if err != nil {
		return nil, r.fail(err)
	}

	reg, err := src.Surface.Reshape(rigidDenorm.Output(registration.RoleSource).Array())
	if err != nil {
		return nil, r.fail(fmt.Errorf("registered surface: %w", err))
	}

	proj := &Projection{
		ID:           r.id,
		Name:         p.name,
		Description:  p.description,
		Source:       src,
		Target:       tgt,
		Steps:        collectSteps(r.results),
		Registration: reg.(*geometry.Surface),
		Params:       p.params,
		CreatedAt:    r.started.UTC(),
	}
	p.last, p.results = proj, r.results
	r.finish()
	opsf("run %s: done, %d steps in %v", r.id, len(proj.Steps), r.clock.Since(r.started))
	return proj, nil
}

// collectSteps lists the source transform of every stage that has an
// active one, in stage order.
func collectSteps(results []*registration.Result) []Step {
	var steps []Step
	for _, res := range results {
		t := res.Transform(registration.RoleSource)
		if t == nil || !t.Active {
			continue
		}
		steps = append(steps, Step{Stage: res.Stage, Transform: t, Inverse: res.Stage.Inverse()})
	}
	return steps
}

// Results returns the stage results of the last completed run.
func (p *Pipeline) Results() []*registration.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*registration.Result(nil), p.results...)
}

// Last returns the projection of the last completed run, nil before any.
func (p *Pipeline) Last() *Projection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Metric compares the last run's registered surface with its target. name
// is one of metrics.Names().
func (p *Pipeline) Metric(name string) (float64, error) {
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if last == nil {
		return 0, ErrNoRun
	}
	return metrics.Compute(name, last.Target.Surface.Vertices, last.Registration.Vertices)
}

// HyperparameterSearch would search the parameter space for the best
// registration of an organ pair.
func (p *Pipeline) HyperparameterSearch(ctx context.Context, source, target *organ.Organ) (*config.Registration, error) {
	return nil, fmt.Errorf("hyperparameter search: %w", ErrNotImplemented)
}

// Autotune would adjust the parameters between runs from their metrics.
func (p *Pipeline) Autotune(ctx context.Context) error {
	return fmt.Errorf("autotune: %w", ErrNotImplemented)
}

// runner carries one run's bookkeeping.
type runner struct {
	id       string
	recorder RunRecorder
	clock    timeutil.Clock
	started  time.Time
	results  []*registration.Result
}

func (r *runner) start(p *Pipeline, src, tgt *organ.Organ) {
	r.started = r.clock.Now()
	if r.recorder == nil {
		return
	}
	params, err := json.Marshal(p.params)
	if err != nil {
		opsf("run %s: encode params: %v", r.id, err)
	}
	run := &sqlite.Run{
		RunID:       r.id,
		Name:        p.name,
		Description: p.description,
		Source:      src.Name,
		Target:      tgt.Name,
		ParamsJSON:  params,
		CreatedAt:   r.started.UnixNano(),
	}
	if err := r.recorder.StartRun(run); err != nil {
		opsf("run %s: not recorded: %v", r.id, err)
		r.recorder = nil
	}
}

// stage runs fn, logs and records the outcome.
func (r *runner) stage(name registration.StageName, fn func() (*registration.Result, error)) (*registration.Result, error) {
	start := r.clock.Now()
	res, err := fn()
	rec := &sqlite.StageRecord{RunID: r.id, Ordinal: len(r.results), Stage: string(name)}
	if err != nil {
		rec.Duration = r.clock.Since(start)
		rec.Error = err.Error()
		r.record(rec)
		return nil, err
	}
	r.results = append(r.results, res)
	rec.Duration = res.Duration
	rec.Metrics = res.Metrics
	r.record(rec)
	diagf("run %s: %s in %v %v", r.id, name, res.Duration, res.Metrics)
	return res, nil
}

func (r *runner) record(rec *sqlite.StageRecord) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordStage(rec); err != nil {
		opsf("run %s: record stage %s: %v", r.id, rec.Stage, err)
	}
}

func (r *runner) fail(err error) error {
	opsf("run %s: failed: %v", r.id, err)
	if r.recorder != nil {
		if rerr := r.recorder.FailRun(r.id, err); rerr != nil {
			opsf("run %s: record failure: %v", r.id, rerr)
		}
	}
	return err
}

func (r *runner) finish() {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.FinishRun(r.id); err != nil {
		opsf("run %s: record completion: %v", r.id, err)
	}
}
