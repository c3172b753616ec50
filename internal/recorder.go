package internal

import (
	"context"
	"time"

	"github.com/lychee-technology/ingest"
	"github.com/lychee-technology/ingest/internal/fetch"
	"github.com/lychee-technology/ingest/internal/transform"
	"github.com/lychee-technology/ingest/internal/worker"
	"go.uber.org/zap"
)

// Fetcher pulls one provider payload. A nil value with a nil error means the
// fetch gave up after exhausting its retries.
type Fetcher interface {
	Do(ctx context.Context, req fetch.Request) (any, error)
}

// Saver persists a batch into a registered table.
type Saver interface {
	Save(ctx context.Context, table string, batch ingest.Batch, opts ingest.SaveOptions) (*ingest.SaveResult, error)
}

// Unit is one fetch → transform → save cycle for a table.
type Unit struct {
	Table   string
	Request fetch.Request
	Chain   ingest.Transformer
	Save    ingest.SaveOptions
}

// RecordResult reports what one unit did.
type RecordResult struct {
	Table    string
	Fetched  bool
	Records  int
	Skipped  bool
	Reason   string
	Save     *ingest.SaveResult
	Duration time.Duration
}

// Recorder drives units of work through a fetcher, a transform chain and a
// saver. A circuit breaker per provider stops polling a provider whose
// fetches keep failing.
type Recorder struct {
	fetcher  Fetcher
	saver    Saver
	breakers *breakers
	logger   *zap.SugaredLogger
}

// NewRecorder creates a recorder; breaker settings come from cfg.
func NewRecorder(fetcher Fetcher, saver Saver, cfg ingest.WorkerConfig) *Recorder {
	return &Recorder{
		fetcher:  fetcher,
		saver:    saver,
		breakers: newBreakers(cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerOpenFor),
		logger:   zap.S().Named("recorder"),
	}
}

// SetLogger replaces the recorder logger.
func (r *Recorder) SetLogger(logger *zap.SugaredLogger) {
	if logger != nil {
		r.logger = logger
	}
}

// Record runs one unit. An exhausted fetch or an empty transform result is not
// an error; the result says why nothing was saved.
func (r *Recorder) Record(ctx context.Context, u Unit) (*RecordResult, error) {
	start := time.Now()
	res := &RecordResult{Table: u.Table}
	defer func() { res.Duration = time.Since(start) }()

	provider, _, err := ingest.ParseTableName(u.Table)
	if err != nil {
		return nil, err
	}
	cb := r.breakers.get(provider)
	if cb.IsOpen() {
		r.logger.Warnw("unit skipped: provider circuit open", "provider", provider, "table", u.Table)
		res.Skipped, res.Reason = true, "circuit open"
		return res, nil
	}

	value, err := r.fetcher.Do(ctx, u.Request)
	if err != nil {
		if ctx.Err() == nil {
			cb.RecordFailure()
		}
		return res, err
	}
	if value == nil {
		cb.RecordFailure()
		r.logger.Warnw("no data fetched", "table", u.Table, "url", u.Request.URL)
		res.Skipped, res.Reason = true, "fetch exhausted"
		return res, nil
	}
	cb.RecordSuccess()
	res.Fetched = true

	out := value
	if u.Chain != nil {
		if out, err = u.Chain.Transform(value); err != nil {
			return res, err
		}
	}
	batch, err := transform.ToBatch(out)
	if err != nil {
		return res, err
	}
	if len(batch) == 0 {
		r.logger.Debugw("nothing to save", "table", u.Table)
		res.Skipped, res.Reason = true, "empty batch"
		return res, nil
	}
	res.Records = len(batch)

	saved, err := r.saver.Save(ctx, u.Table, batch, u.Save)
	res.Save = saved
	if err != nil {
		return res, err
	}
	EmitLatency(ctx, "record", time.Since(start).Milliseconds())
	return res, nil
}

// RecordAll runs units on pool and returns their results in unit order.
// Failed units leave a nil entry; their errors are joined.
func (r *Recorder) RecordAll(ctx context.Context, pool *worker.Pool, units []Unit) ([]*RecordResult, error) {
	results := make([]*RecordResult, len(units))
	tasks := make([]worker.Unit, len(units))
	for i, u := range units {
		u := u
		tasks[i] = func(ctx context.Context) (any, error) {
			return r.Record(ctx, u)
		}
	}
	err := pool.Run(ctx, tasks, func(i int, v any, err error) {
		if err != nil {
			r.logger.Warnw("unit failed", "table", units[i].Table, "err", err)
			return
		}
		results[i], _ = v.(*RecordResult)
	})
	return results, err
}
