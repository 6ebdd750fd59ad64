package ncei

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Mode selects what the orchestrator does with each item.
type Mode int

const (
	// Download fetches every item into its destination.
	Download Mode = iota
	// ProbeOnly checks that every item exists without transferring it.
	ProbeOnly
)

func (m Mode) String() string {
	if m == ProbeOnly {
		return "probe"
	}
	return "download"
}

// Item is one unit of work. Dest is ignored in probe mode.
type Item struct {
	URL  string
	Dest string
}

// Outcome is the per-item result of a run.
type Outcome struct {
	Item   Item
	Result FetchResult
	Err    error
}

// Progress is sent once for every finished item.
type Progress struct {
	Done    int
	Total   int
	Outcome Outcome
}

// Options control a single run.
type Options struct {
	Jobs  int // concurrent fetches; values below 1 mean 1
	Force bool
	Mode  Mode
	// Progress, when set, receives one message per finished item. The
	// caller must keep draining it until Run returns.
	Progress chan<- Progress
}

// Report holds the outcome of every item, in input order.
type Report struct {
	Mode     Mode
	Outcomes []Outcome
	Elapsed  time.Duration
}

// Succeeded returns the outcomes without an error.
func (r *Report) Succeeded() []Outcome {
	return r.filter(func(o Outcome) bool { return o.Err == nil })
}

// Failed returns the outcomes with an error.
func (r *Report) Failed() []Outcome {
	return r.filter(func(o Outcome) bool { return o.Err != nil })
}

// Transferred returns the outcomes that moved bytes.
func (r *Report) Transferred() []Outcome {
	return r.filter(func(o Outcome) bool { return o.Err == nil && o.Result.Transferred })
}

// Err joins every per-item failure, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Item.URL, o.Err))
		}
	}
	return errors.Join(errs...)
}

func (r *Report) filter(keep func(Outcome) bool) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// Orchestrator runs many fetches with bounded concurrency.
type Orchestrator struct {
	fetcher *Fetcher
	logger  *zap.Logger
}

// NewOrchestrator wraps a fetcher.
func NewOrchestrator(fetcher *Fetcher, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{fetcher: fetcher, logger: logger.Named("orchestrator")}
}

// Run processes items with at most opts.Jobs fetches in flight. A failing
// item never stops the batch. When ctx is cancelled no further items are
// started; items already running complete under their own timeouts and
// items never started are reported with ctx.Err().
//
// The returned error is non-nil only for a malformed batch, which is
// rejected before any I/O.
func (o *Orchestrator) Run(ctx context.Context, items []Item, opts Options) (*Report, error) {
	if err := validate(items, opts.Mode); err != nil {
		return nil, err
	}

	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	started := time.Now()
	report := &Report{Mode: opts.Mode, Outcomes: make([]Outcome, len(items))}
	for i, it := range items {
		report.Outcomes[i].Item = it
	}

	work := make(chan int)
	finished := make(chan int)
	ran := make([]bool, len(items))
	// In-flight fetches are not interrupted by cancellation.
	fetchCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	for w := 0; w < jobs; w++ {
		g.Go(func() error {
			for i := range work {
				ran[i] = true
				out := &report.Outcomes[i]
				if opts.Mode == ProbeOnly {
					out.Result, out.Err = o.fetcher.Probe(fetchCtx, out.Item.URL)
				} else {
					out.Result, out.Err = o.fetcher.Fetch(fetchCtx, out.Item.URL, out.Item.Dest, opts.Force)
				}
				finished <- i
			}
			return nil
		})
	}

	go func() {
		defer close(work)
		for i := range items {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case work <- i:
			}
		}
	}()

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		done := 0
		for i := range finished {
			done++
			out := report.Outcomes[i]
			o.logOutcome(opts.Mode, out)
			if opts.Progress != nil {
				opts.Progress <- Progress{Done: done, Total: len(items), Outcome: out}
			}
		}
	}()

	_ = g.Wait()
	close(finished)
	<-collected

	skipped := 0
	for i := range report.Outcomes {
		if !ran[i] {
			report.Outcomes[i].Err = ctx.Err()
			skipped++
		}
	}
	if skipped > 0 {
		o.logger.Warn("Run cancelled before all items started",
			zap.Int("not_started", skipped),
			zap.Int("total", len(items)))
	}

	report.Elapsed = time.Since(started)
	o.logger.Info("Run complete",
		zap.String("mode", opts.Mode.String()),
		zap.Int("items", len(items)),
		zap.Int("failed", len(report.Failed())),
		zap.Int("transferred", len(report.Transferred())),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

func (o *Orchestrator) logOutcome(mode Mode, out Outcome) {
	switch {
	case out.Err != nil:
		o.logger.Warn("Item failed",
			zap.String("mode", mode.String()),
			zap.String("url", out.Item.URL),
			zap.Error(out.Err))
	case mode == Download && !out.Result.Transferred:
		o.logger.Debug("Item up to date", zap.String("path", out.Item.Dest))
	default:
		o.logger.Debug("Item done", zap.String("url", out.Item.URL))
	}
}

func validate(items []Item, mode Mode) error {
	seen := make(map[string]int, len(items))
	for i, it := range items {
		if it.URL == "" {
			return fmt.Errorf("%w: item %d has no URL", ErrInvalidItem, i)
		}
		if mode == ProbeOnly {
			continue
		}
		if it.Dest == "" {
			return fmt.Errorf("%w: item %d has no destination", ErrInvalidItem, i)
		}
		key := filepath.Clean(it.Dest)
		if j, ok := seen[key]; ok {
			return fmt.Errorf("%w: items %d and %d both write %s", ErrDuplicateDestination, j, i, it.Dest)
		}
		seen[key] = i
	}
	return nil
}
