// Package loader - Sharded, batched and prefetched access to a dataset.
package loader

import (
	"context"

	"github.com/nvr-ai/go-seg/datasets"
	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/profiler"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

// ErrOptions is returned for invalid loader options.
var ErrOptions = errors.New("invalid loader options")

// Shard returns the dataset indices owned by rank: rank, rank+world, ...
// Shards of all ranks are disjoint and together cover [0, n).
//
// Arguments:
//   - n: The dataset size.
//   - rank: The process rank in [0, world).
//   - world: The number of processes.
//
// Returns:
//   - []int: The indices in increasing order.
func Shard(n, rank, world int) []int {
	if n <= 0 || world <= 0 || rank < 0 || rank >= world {
		return nil
	}
	indices := make([]int, 0, (n-rank+world-1)/world)
	for i := rank; i < n; i += world {
		indices = append(indices, i)
	}
	return indices
}

// Batch is a group of samples stacked into one N×C×H×W tensor.
type Batch struct {
	// Images is the stacked input.
	Images *tensor.Dense
	// Samples holds per-sample metadata and ground truth. Their Image
	// fields are cleared once stacked into Images.
	Samples []datasets.Sample
}

// Sizes returns the original size of every sample.
func (b Batch) Sizes() []images.Size {
	sizes := make([]images.Size, len(b.Samples))
	for i, s := range b.Samples {
		sizes[i] = s.Size()
	}
	return sizes
}

// Options configures a Loader.
type Options struct {
	// BatchSize is the number of samples per batch. The last batch may be
	// smaller.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// NumWorkers is the number of goroutines reading samples. Zero reads in
	// the consuming goroutine.
	NumWorkers int `json:"num_workers" yaml:"num_workers"`
	// Prefetch is the number of batches that may be in flight. Defaults to
	// twice NumWorkers.
	Prefetch int `json:"prefetch" yaml:"prefetch"`
}

// Loader yields batches of a dataset shard in index order.
type Loader struct {
	ds       datasets.Dataset
	indices  []int
	opts     Options
	profiler *profiler.Tracker
}

// New creates a loader over the given indices of ds.
//
// Arguments:
//   - ds: The dataset.
//   - indices: The indices to read, usually a Shard.
//   - opts: Batching options.
//   - p: Optional profiler recording per-batch load times.
//
// Returns:
//   - *Loader: The loader.
//   - error: ErrOptions if the options are invalid.
func New(ds datasets.Dataset, indices []int, opts Options, p *profiler.Tracker) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.Wrapf(ErrOptions, "batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.NumWorkers < 0 {
		return nil, errors.Wrapf(ErrOptions, "number of workers must not be negative, got %d", opts.NumWorkers)
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = max(2*opts.NumWorkers, 1)
	}
	return &Loader{ds: ds, indices: indices, opts: opts, profiler: p}, nil
}

// Len returns the number of batches.
func (l *Loader) Len() int {
	return (len(l.indices) + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Run calls fn with every batch in order. Reading is spread over the
// configured workers; fn is never called concurrently.
//
// Arguments:
//   - ctx: Cancels reading.
//   - fn: Receives the batch index and batch. A returned error stops the run.
//
// Returns:
//   - error: The first read or fn error.
func (l *Loader) Run(ctx context.Context, fn func(i int, b Batch) error) error {
	if l.opts.NumWorkers == 0 {
		for i := 0; i < l.Len(); i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := l.load(i)
			if err != nil {
				return err
			}
			if err := fn(i, b); err != nil {
				return err
			}
		}
		return nil
	}
	return l.runParallel(ctx, fn)
}

type result struct {
	batch Batch
	err   error
}

type job struct {
	index int
	out   chan<- result
}

func (l *Loader) runParallel(ctx context.Context, fn func(int, Batch) error) error {
	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan job)
	pending := make(chan chan result, l.opts.Prefetch)

	g.Go(func() error {
		defer close(jobs)
		defer close(pending)
		for i := 0; i < l.Len(); i++ {
			out := make(chan result, 1)
			select {
			case pending <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
			select {
			case jobs <- job{index: i, out: out}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < l.opts.NumWorkers; w++ {
		g.Go(func() error {
			for j := range jobs {
				b, err := l.load(j.index)
				j.out <- result{batch: b, err: err}
			}
			return nil
		})
	}

	g.Go(func() error {
		i := 0
		for out := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r result
			select {
			case r = <-out:
			case <-ctx.Done():
				return ctx.Err()
			}
			if r.err != nil {
				return r.err
			}
			if err := fn(i, r.batch); err != nil {
				return err
			}
			i++
		}
		return nil
	})

	return g.Wait()
}

// load reads and stacks batch i.
func (l *Loader) load(i int) (Batch, error) {
	defer l.profiler.StartOperation("load")()

	lo := i * l.opts.BatchSize
	hi := min(lo+l.opts.BatchSize, len(l.indices))

	samples := make([]datasets.Sample, 0, hi-lo)
	items := make([]*tensor.Dense, 0, hi-lo)
	for _, idx := range l.indices[lo:hi] {
		s, err := l.ds.Get(idx)
		if err != nil {
			return Batch{}, errors.WithMessagef(err, "sample %d", idx)
		}
		items = append(items, s.Image)
		s.Image = nil
		samples = append(samples, s)
	}

	stacked, err := inference.Stack(items)
	if err != nil {
		return Batch{}, errors.WithMessagef(err, "batch %d (set a dataset resize to batch images of different sizes)", i)
	}
	return Batch{Images: stacked, Samples: samples}, nil
}
