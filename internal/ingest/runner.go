package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/jobs"
	jobsinmemory "github.com/dvloznov/donation-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/metrics"
	"github.com/dvloznov/donation-tracker/internal/store"
	"github.com/dvloznov/donation-tracker/internal/watermark"
)

// RecordStore is the part of the donations store a run touches.
type RecordStore interface {
	store.Reader
	store.Writer
}

// ConverterFactory returns a fresh currency converter. Each run gets its
// own, so realtime rates are fetched at most once per run.
type ConverterFactory func() CurrencyConverter

// Result is the outcome of one source run.
type Result struct {
	Source   string
	Window   *watermark.Window
	Rows     int
	CaughtUp bool
	Err      error
}

// Runner drives per-source runs.
type Runner struct {
	cfg        *config.Config
	store      RecordStore
	factory    AdapterFactory
	converters ConverterFactory
	resolver   *watermark.Resolver
	sink       *Sink
	now        func() time.Time

	running sourceLocks
}

// sourceLocks holds one mutex per source name. Two runs of one source would
// resolve the same watermark and write the same donations twice.
type sourceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock blocks until no other run of source is in progress and returns the
// matching unlock.
func (l *sourceLocks) lock(source string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[source]
	if !ok {
		m = &sync.Mutex{}
		l.locks[source] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the clock used to plan windows.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner.
func NewRunner(cfg *config.Config, st RecordStore, factory AdapterFactory, converters ConverterFactory, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		store:      st,
		factory:    factory,
		converters: converters,
		resolver:   watermark.NewResolver(st, cfg),
		sink:       NewSink(st),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunSource pulls the next window of one scheduled source and writes it.
func (r *Runner) RunSource(ctx context.Context, name string) (Result, error) {
	return r.runSource(ctx, name, r.converters())
}

func (r *Runner) runSource(ctx context.Context, name string, conv CurrencyConverter) (Result, error) {
	res := Result{Source: name}

	src, err := r.cfg.Source(name)
	if err != nil {
		res.Err = fmt.Errorf("RunSource: %w", err)
		return res, res.Err
	}
	if src.Type == config.KindManual {
		res.Err = fmt.Errorf("RunSource: %w: source %q is imported from files", domain.ErrConfiguration, name)
		return res, res.Err
	}

	unlock := r.running.lock(src.Name)
	defer unlock()

	log := logger.ForSource(logger.FromContext(ctx), src.Name, string(src.Type))
	ctx = logger.WithContext(ctx, log)

	state := &PipelineState{Source: src, Mode: domain.InsertionModeAuto, Now: r.now().UTC()}
	p := NewSourcePipeline(r.factory, r.resolver, r.cfg.Ingest.MaxWindow, NewNormalizer(conv), r.sink)

	err = r.execute(ctx, p, state)
	res.Window = state.Window
	res.Rows = state.Written
	if state.Window != nil {
		res.CaughtUp = state.Window.CaughtUp(state.Now)
	}
	if err != nil {
		res.Err = fmt.Errorf("RunSource: %s: %w", name, err)
		return res, res.Err
	}
	return res, nil
}

// ImportFile writes every row of a CSV file (local path or gs:// URI) into
// the named source with insertion mode Manual. Imports are not deduplicated.
func (r *Runner) ImportFile(ctx context.Context, name, path string) (Result, error) {
	res := Result{Source: name}

	src, err := r.cfg.Source(name)
	if err != nil {
		res.Err = fmt.Errorf("ImportFile: %w", err)
		return res, res.Err
	}

	log := logger.ForSource(logger.FromContext(ctx), src.Name, string(config.KindManual))
	if src.Type != config.KindManual {
		log.Warn().Str("configured_kind", string(src.Type)).Msg("Importing a file into a scheduled source")
	}
	ctx = logger.WithContext(ctx, log.With().Str("file", path).Logger())

	adapter, err := r.factory.BuildManual(src, path)
	if err != nil {
		res.Err = fmt.Errorf("ImportFile: %w", err)
		return res, res.Err
	}

	unlock := r.running.lock(src.Name)
	defer unlock()

	state := &PipelineState{Source: src, Mode: domain.InsertionModeManual, Now: r.now().UTC(), Adapter: adapter}
	err = r.execute(ctx, NewImportPipeline(NewNormalizer(r.converters()), r.sink), state)
	res.Rows = state.Written
	if err != nil {
		res.Err = fmt.Errorf("ImportFile: %s: %w", name, err)
		return res, res.Err
	}
	return res, nil
}

func (r *Runner) execute(ctx context.Context, p *Pipeline, state *PipelineState) error {
	start := time.Now()
	err := p.Execute(ctx, state)
	metrics.SourceRunDuration.WithLabelValues(state.Source.Name).Observe(time.Since(start).Seconds())

	outcome := "written"
	switch {
	case err != nil:
		outcome = "failed"
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Source run failed")
	case state.Written == 0:
		outcome = "empty"
	}
	metrics.SourceRunsTotal.WithLabelValues(state.Source.Name, outcome).Inc()
	return err
}

// RunAll runs every scheduled source on a pool of cfg.Ingest.Workers
// workers sharing one converter. A failing source does not stop the others;
// the returned error joins every failure. Results are in config order.
// Once ctx is done, sources that have not started report ctx.Err().
func (r *Runner) RunAll(ctx context.Context) ([]Result, error) {
	scheduled := r.cfg.ScheduledSources()
	if len(scheduled) == 0 {
		return nil, nil
	}

	conv := r.converters()
	var mu sync.Mutex
	results := make([]Result, len(scheduled))
	ran := make([]bool, len(scheduled))
	index := make(map[string]int, len(scheduled))
	for i, src := range scheduled {
		index[src.Name] = i
		results[i] = Result{Source: src.Name}
	}

	q := jobsinmemory.NewQueue(len(scheduled), r.cfg.Ingest.Workers, nil)
	if err := q.Start(ctx, func(ctx context.Context, job *jobs.IngestJob) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := r.runSource(ctx, job.Source, conv)
		mu.Lock()
		results[index[job.Source]] = res
		ran[index[job.Source]] = true
		mu.Unlock()
		recordResult(job, res)
		return err
	}); err != nil {
		return nil, fmt.Errorf("RunAll: starting workers: %w", err)
	}

	notRun := make([]error, len(scheduled))
	for i, src := range scheduled {
		if err := q.Publish(ctx, &jobs.IngestJob{Type: jobs.JobTypeIngestSource, Source: src.Name}); err != nil {
			notRun[i] = err
		}
	}
	// In-flight sources finish before results are read.
	var errs []error
	if err := q.Stop(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("RunAll: waiting for workers: %w", err))
	}

	mu.Lock()
	defer mu.Unlock()
	out := append([]Result(nil), results...)
	for i := range out {
		if !ran[i] {
			cause := notRun[i]
			if cause == nil {
				cause = ctx.Err()
			}
			if cause == nil {
				cause = errors.New("source was not run")
			}
			out[i].Err = fmt.Errorf("RunAll: %s not run: %w", out[i].Source, cause)
		}
		if out[i].Err != nil {
			errs = append(errs, out[i].Err)
		}
	}
	return out, errors.Join(errs...)
}

// Handle is a jobs.JobHandler running ingest and import jobs, each with its
// own converter. Only store failures are retried; a provider error has
// already had its rate-limit retry.
func (r *Runner) Handle(ctx context.Context, job *jobs.IngestJob) error {
	var (
		res Result
		err error
	)
	switch job.GetType() {
	case jobs.JobTypeIngestSource:
		res, err = r.RunSource(ctx, job.Source)
	case jobs.JobTypeImportFile:
		res, err = r.ImportFile(ctx, job.Source, job.File)
	default:
		return fmt.Errorf("Handle: unknown job type %q", job.Type)
	}
	recordResult(job, res)
	if isPermanent(err) {
		return jobs.Permanent(err)
	}
	return err
}

func isPermanent(err error) bool {
	for _, target := range []error{
		domain.ErrConfiguration,
		domain.ErrSchemaViolation,
		domain.ErrProvider,
		domain.ErrCurrencyUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func recordResult(job *jobs.IngestJob, res Result) {
	job.Rows = res.Rows
	if res.Window != nil {
		start, end := res.Window.Start, res.Window.End
		job.WindowStart = &start
		job.WindowEnd = &end
	}
}

// Status is the resolved watermark and next window of a source.
type Status struct {
	Source    string
	Kind      config.Kind
	Watermark *watermark.Watermark
	Window    *watermark.Window
	Err       error
}

// Inspect resolves the watermark and next window of every source without
// fetching anything. Manual sources have neither.
func (r *Runner) Inspect(ctx context.Context) []Status {
	out := make([]Status, 0, len(r.cfg.Sources))
	now := r.now().UTC()
	for _, src := range r.cfg.Sources {
		st := Status{Source: src.Name, Kind: src.Type}
		if src.Type != config.KindManual {
			wm, err := r.resolver.Resolve(ctx, src.Name)
			if err != nil {
				st.Err = err
			} else {
				w := watermark.PlanWithSpan(wm, now, r.cfg.Ingest.MaxWindow)
				st.Watermark = &wm
				st.Window = &w
			}
		}
		out = append(out, st)
	}
	return out
}
