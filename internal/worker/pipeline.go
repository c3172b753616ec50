package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ProduceFunc feeds items for one shard into out.
type ProduceFunc[T any] func(ctx context.Context, shard int, out chan<- T) error

// ConsumeFunc handles one item.
type ConsumeFunc[T any] func(ctx context.Context, item T) error

// ProducerConsumer runs Producers goroutines that fill a bounded queue and
// Consumers goroutines that drain it.
type ProducerConsumer[T any] struct {
	Producers int
	Consumers int
	QueueSize int
	Logger    *zap.SugaredLogger
}

// Run starts every producer and consumer. Once all producers have returned
// the queue is closed, which tells each consumer to stop after draining. Run
// returns after the last consumer exits, with every producer and consumer
// error joined.
func (pc *ProducerConsumer[T]) Run(ctx context.Context, produce ProduceFunc[T], consume ConsumeFunc[T]) error {
	producers := max(pc.Producers, 1)
	consumers := max(pc.Consumers, 1)
	queue := make(chan T, max(pc.QueueSize, 0))
	logger := pc.Logger
	if logger == nil {
		logger = zap.S().Named("pipeline")
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var consumerWG sync.WaitGroup
	for c := 0; c < consumers; c++ {
		consumerWG.Add(1)
		go func(c int) {
			defer consumerWG.Done()
			for item := range queue {
				if err := consume(ctx, item); err != nil {
					logger.Warnw("consumer failed", "consumer", c, "err", err)
					record(fmt.Errorf("consumer %d: %w", c, err))
				}
			}
		}(c)
	}

	var producerWG sync.WaitGroup
	for s := 0; s < producers; s++ {
		producerWG.Add(1)
		go func(s int) {
			defer producerWG.Done()
			if err := produce(ctx, s, queue); err != nil {
				logger.Warnw("producer failed", "shard", s, "err", err)
				record(fmt.Errorf("producer %d: %w", s, err))
			}
		}(s)
	}

	producerWG.Wait()
	close(queue)
	consumerWG.Wait()

	logger.Debugw("pipeline finished", "producers", producers, "consumers", consumers, "failures", len(errs))
	return errors.Join(errs...)
}

// Emit sends v on out unless ctx is done first.
func Emit[T any](ctx context.Context, out chan<- T, v T) error {
	select {
	case out <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shard splits items round-robin into n slices: shard i holds items i, i+n, i+2n...
func Shard[T any](items []T, n int) [][]T {
	if n < 1 {
		n = 1
	}
	out := make([][]T, n)
	for i, it := range items {
		out[i%n] = append(out[i%n], it)
	}
	return out
}
