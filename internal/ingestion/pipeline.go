// Package ingestion loads people into the directory in bulk and keeps their embeddings
// current: seeding from sample fixtures, and re-embedding every profile after the
// embedding model or profile text changes.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/knoguchi/peermatch/internal/repository"
	"github.com/knoguchi/peermatch/internal/service"
	"github.com/panjf2000/ants/v2"
)

// ErrDirectoryRequired is returned when no directory is provided.
var ErrDirectoryRequired = errors.New("directory required")

// Directory is the part of the person service the pipeline drives.
type Directory interface {
	Create(ctx context.Context, in service.CreatePersonInput) (*repository.Person, error)
	Phones(ctx context.Context) ([]string, error)
	RefreshEmbedding(ctx context.Context, phone string) error
}

// Progress is a snapshot reported after every finished item.
type Progress struct {
	Total   int
	Done    int
	Failed  int
	Elapsed time.Duration
}

// Failure records one item that could not be processed.
type Failure struct {
	Phone string
	Err   error
}

// Report summarizes a bulk run.
type Report struct {
	Total     int
	Succeeded int
	// Skipped counts seeds whose phone was already registered.
	Skipped  int
	Failures []Failure
	Elapsed  time.Duration
}

// Pipeline runs bulk directory work on a bounded worker pool.
type Pipeline struct {
	dir      Directory
	pool     *ants.Pool
	retry    RetryPolicy
	progress func(Progress)
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of concurrent workers. Default is runtime.NumCPU() / 2,
// with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithRetryPolicy sets how transient failures are retried.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(p *Pipeline) error {
		if policy.MaxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		p.retry = policy
		return nil
	}
}

// WithProgress registers a callback invoked after every item. Calls are serialized.
func WithProgress(fn func(Progress)) Option {
	return func(p *Pipeline) error {
		p.progress = fn
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a pipeline. Call Release when done.
func NewPipeline(dir Directory, opts ...Option) (*Pipeline, error) {
	if dir == nil {
		return nil, ErrDirectoryRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		dir:    dir,
		pool:   pool,
		retry:  DefaultRetryPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// Release stops the worker pool.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Seed registers every input. Phones already in the directory are skipped, not failed.
func (p *Pipeline) Seed(ctx context.Context, inputs []service.CreatePersonInput) (*Report, error) {
	keys := make([]string, len(inputs))
	for i, in := range inputs {
		keys[i] = in.PhoneNumber
	}

	p.logger.Info("seeding directory", "people", len(inputs))
	report, err := p.run(ctx, keys, func(ctx context.Context, i int) (bool, error) {
		_, err := p.dir.Create(ctx, inputs[i])
		if errors.Is(err, service.ErrPhoneExists) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return report, fmt.Errorf("failed to seed directory: %w", err)
	}
	p.logger.Info("seeding complete",
		"succeeded", report.Succeeded,
		"skipped", report.Skipped,
		"failed", len(report.Failures),
		"elapsed", report.Elapsed)
	return report, nil
}

// Reembed recomputes the stored vector of every person in the directory.
func (p *Pipeline) Reembed(ctx context.Context) (*Report, error) {
	phones, err := p.dir.Phones(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	p.logger.Info("re-embedding directory", "people", len(phones))
	report, err := p.run(ctx, phones, func(ctx context.Context, i int) (bool, error) {
		err := p.dir.RefreshEmbedding(ctx, phones[i])
		if errors.Is(err, service.ErrPersonNotFound) {
			// Deleted since listing.
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return report, fmt.Errorf("failed to re-embed directory: %w", err)
	}
	p.logger.Info("re-embedding complete",
		"succeeded", report.Succeeded,
		"skipped", report.Skipped,
		"failed", len(report.Failures),
		"elapsed", report.Elapsed)
	return report, nil
}

// run applies task to every key on the pool, retrying transient failures. A task returns
// skipped=true for items that need no work. It returns ctx's error if ctx ends first.
func (p *Pipeline) run(ctx context.Context, keys []string, task func(ctx context.Context, i int) (bool, error)) (*Report, error) {
	start := time.Now()
	report := &Report{Total: len(keys)}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	finish := func(i int, skipped bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			report.Failures = append(report.Failures, Failure{Phone: keys[i], Err: err})
			p.logger.Warn("item failed", "phone", keys[i], "error", err)
		case skipped:
			report.Skipped++
		default:
			report.Succeeded++
		}
		if p.progress != nil {
			p.progress(Progress{
				Total:   report.Total,
				Done:    report.Succeeded + report.Skipped + len(report.Failures),
				Failed:  len(report.Failures),
				Elapsed: time.Since(start),
			})
		}
	}

	for i := range keys {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			var skipped bool
			err := p.retry.Do(ctx, func() error {
				var err error
				skipped, err = task(ctx, i)
				return err
			})
			finish(i, skipped, err)
		})
		if err != nil {
			wg.Done()
			finish(i, false, fmt.Errorf("failed to schedule: %w", err))
		}
	}
	wg.Wait()

	report.Elapsed = time.Since(start)
	return report, ctx.Err()
}
