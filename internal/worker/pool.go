// Package worker runs units of ingestion work concurrently: a bounded pool
// with a completion callback, and a producer/consumer pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Unit is one independent piece of work.
type Unit func(ctx context.Context) (any, error)

// DoneFunc receives the outcome of unit i. Calls are serialized.
type DoneFunc func(i int, result any, err error)

// Pool runs units with at most Size in flight.
type Pool struct {
	Size   int
	Logger *zap.SugaredLogger
}

// NewPool creates a pool; size < 1 means 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{Size: size}
}

func (p *Pool) logger() *zap.SugaredLogger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.S().Named("pool")
}

// Run executes every unit and blocks until all complete. A failing unit does
// not cancel its siblings; failures are passed to onDone and joined into the
// returned error. A panicking unit is reported as a failure.
func (p *Pool) Run(ctx context.Context, units []Unit, onDone DoneFunc) error {
	size := p.Size
	if size < 1 {
		size = 1
	}
	var g errgroup.Group
	g.SetLimit(size)

	var (
		mu   sync.Mutex
		errs []error
	)
	for i, unit := range units {
		i, unit := i, unit
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				p.finish(&mu, &errs, onDone, i, nil, err)
				return nil
			}
			res, err := runUnit(ctx, unit)
			p.finish(&mu, &errs, onDone, i, res, err)
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		p.logger().Warnw("pool finished with failures", "units", len(units), "failed", len(errs))
	}
	return errors.Join(errs...)
}

func (p *Pool) finish(mu *sync.Mutex, errs *[]error, onDone DoneFunc, i int, res any, err error) {
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		*errs = append(*errs, fmt.Errorf("unit %d: %w", i, err))
	}
	if onDone != nil {
		onDone(i, res, err)
	}
}

func runUnit(ctx context.Context, unit Unit) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panicked: %v", r)
		}
	}()
	return unit(ctx)
}
