package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/census-etl/pkg/census"
	"github.com/Sternrassler/census-etl/pkg/sink"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	groupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "census_groups_total",
		Help: "Variable groups processed by status",
	}, []string{"status"})

	groupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "census_group_duration_seconds",
		Help:    "Time to fetch, assemble and write one group",
		Buckets: []float64{1, 10, 60, 300, 900, 3600, 10800},
	})

	groupsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "census_groups_in_flight",
		Help: "Groups currently being processed",
	})
)

// Fetcher fetches the data of one group. *census.GroupFetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, group string) (*census.GroupData, error)
}

// Config holds runner configuration.
type Config struct {
	// MaxConcurrency is the number of groups processed in parallel
	MaxConcurrency int

	// AllowPartial writes tables of groups with failed units
	AllowPartial bool

	// GroupTimeout bounds one group task (0 = no limit)
	GroupTimeout time.Duration
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		AllowPartial:   false,
	}
}

// Runner dispatches groups to a worker pool.
type Runner struct {
	fetcher Fetcher
	catalog *census.Catalog
	sink    sink.Sink
	config  Config
	runID   uuid.UUID
	logger  zerolog.Logger

	mu       sync.Mutex
	progress Progress
	running  map[string]bool
}

// NewRunner creates a runner with a fresh run ID.
func NewRunner(fetcher Fetcher, catalog *census.Catalog, out sink.Sink, config Config) *Runner {
	return NewRunnerWithID(uuid.New(), fetcher, catalog, out, config)
}

// NewRunnerWithID creates a runner for an existing run ID.
func NewRunnerWithID(runID uuid.UUID, fetcher Fetcher, catalog *census.Catalog, out sink.Sink, config Config) *Runner {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if out == nil {
		out = sink.DiscardSink{}
	}

	return &Runner{
		fetcher:  fetcher,
		catalog:  catalog,
		sink:     out,
		config:   config,
		runID:    runID,
		logger:   log.With().Str("component", "pipeline").Str("run_id", runID.String()).Logger(),
		progress: Progress{RunID: runID.String()},
		running:  map[string]bool{},
	}
}

// RunID returns the identifier attached to logs and sink records.
func (r *Runner) RunID() uuid.UUID {
	return r.runID
}

// Progress returns a snapshot of the current run.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.progress
	p.Running = make([]string, 0, len(r.running))
	for g := range r.running {
		p.Running = append(p.Running, g)
	}
	sort.Strings(p.Running)
	return p
}

type task struct {
	index int
	group string
}

type taskResult struct {
	index  int
	result GroupResult
}

// Run processes groups and returns a report with one result per group.
// The returned error is non-nil when any group failed or was cancelled.
func (r *Runner) Run(ctx context.Context, groups []string) (*Report, error) {
	report := &Report{
		RunID:   r.runID,
		Started: time.Now(),
		Results: make([]GroupResult, len(groups)),
	}
	for i, g := range groups {
		report.Results[i] = GroupResult{Group: g, Status: StatusCancelled}
	}

	r.mu.Lock()
	r.progress.Started = report.Started
	r.progress.Total = len(groups)
	r.progress.Done, r.progress.Failed, r.progress.Rows = 0, 0, 0
	r.progress.Finished = false
	r.mu.Unlock()

	r.logger.Info().
		Int("groups", len(groups)).
		Int("workers", r.config.MaxConcurrency).
		Bool("allow_partial", r.config.AllowPartial).
		Msg("Starting run")

	queue := make(chan task, len(groups))
	results := make(chan taskResult, len(groups))

	// Fill queue
	for i, g := range groups {
		queue <- task{index: i, group: g}
	}
	close(queue)

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < r.config.MaxConcurrency; i++ {
		wg.Add(1)
		go r.worker(ctx, queue, results, &wg, i)
	}

	// Close results channel when all workers done
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results
	for tr := range results {
		report.Results[tr.index] = tr.result
	}
	report.Finished = time.Now()

	r.mu.Lock()
	r.progress.Finished = true
	r.mu.Unlock()

	r.logger.Info().
		Int("succeeded", report.Count(StatusSucceeded)).
		Int("partial", report.Count(StatusPartial)).
		Int("failed", report.Count(StatusFailed)).
		Int("skipped", report.Count(StatusSkipped)).
		Int("cancelled", report.Count(StatusCancelled)).
		Int("rows", report.Rows()).
		Dur("duration", report.Duration()).
		Msg("Run complete")

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run cancelled: %w", err)
	}
	return report, report.Err()
}

// worker processes groups from the queue.
func (r *Runner) worker(ctx context.Context, queue <-chan task, results chan<- taskResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for t := range queue {
		// Check context cancellation
		select {
		case <-ctx.Done():
			r.logger.Debug().
				Int("worker_id", workerID).
				Int("groups_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		res := r.process(ctx, t.group)
		results <- taskResult{index: t.index, result: res}
		processed++
	}

	r.logger.Debug().
		Int("worker_id", workerID).
		Int("groups_processed", processed).
		Msg("Worker completed")
}

// process runs fetch, assemble and write for one group.
func (r *Runner) process(ctx context.Context, group string) (res GroupResult) {
	start := time.Now()
	res.Group = group
	logger := r.logger.With().Str("group", group).Logger()

	r.begin(group)
	defer func() {
		res.Duration = time.Since(start)
		r.finish(res)
	}()

	if r.config.GroupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.GroupTimeout)
		defer cancel()
	}

	logger.Info().Msg("Group started")

	data, err := r.fetcher.Fetch(ctx, group)

	var fetchErr *census.FetchError
	switch {
	case errors.Is(err, census.ErrEmptyGroup):
		res.Status = StatusSkipped
		res.Table = census.Assemble(r.catalog, group, nil, nil)
		res.Err = err
		logger.Warn().Msg("Group has no variables, skipping")
		return res

	case errors.As(err, &fetchErr) && ctx.Err() == nil:
		res.Failures = fetchErr.Failures
		res.Err = err
		if !r.config.AllowPartial {
			res.Status = StatusFailed
			logger.Error().
				Err(err).
				Int("failed_units", len(fetchErr.Failures)).
				Msg("Group incomplete, not written")
			return res
		}
		res.Status = StatusPartial

	case err != nil:
		res.Status = StatusFailed
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			res.Status = StatusCancelled
		}
		res.Err = err
		logger.Error().Err(err).Msg("Group failed")
		return res

	default:
		res.Status = StatusSucceeded
	}

	res.Table = census.AssembleGroup(r.catalog, data)
	res.Rows = res.Table.Len()

	if err := r.sink.Write(ctx, res.Table); err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("write group %s: %w", group, err)
		logger.Error().Err(err).Msg("Sink write failed")
		return res
	}
	res.Written = true

	logger.Info().
		Str("status", string(res.Status)).
		Int("rows", res.Rows).
		Int("columns", len(res.Table.Columns)).
		Dur("duration", time.Since(start)).
		Msg("Group finished")

	return res
}

func (r *Runner) begin(group string) {
	groupsInFlight.Inc()
	r.mu.Lock()
	r.running[group] = true
	r.mu.Unlock()
}

func (r *Runner) finish(res GroupResult) {
	groupsInFlight.Dec()
	groupsTotal.WithLabelValues(string(res.Status)).Inc()
	groupDuration.Observe(res.Duration.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, res.Group)
	r.progress.Done++
	if res.Status == StatusFailed {
		r.progress.Failed++
	}
	if res.Written {
		r.progress.Rows += res.Rows
	}
}
