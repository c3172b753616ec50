package internal

import (
	"context"
	"strconv"
	"sync"
)

// Telemetry hook layer. Callers may register a metrics backend (or a test
// stub) via RegisterTelemetryEmitter; the default emitter is a no-op.

// TelemetryEmitter receives one named measurement with its labels.
type TelemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

var (
	teleMu   sync.Mutex
	teleImpl TelemetryEmitter = func(ctx context.Context, name string, labels map[string]string, value any) {}
)

// RegisterTelemetryEmitter registers a custom emitter function. Passing nil
// restores the no-op emitter.
func RegisterTelemetryEmitter(fn TelemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(ctx context.Context, name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

func emitter() TelemetryEmitter {
	teleMu.Lock()
	defer teleMu.Unlock()
	return teleImpl
}

// EmitLatency records a latency measure (milliseconds) for a named stage.
// name: "ingest_latency_ms" with label {"stage": "<query|save|fetch|transform>"}
func EmitLatency(ctx context.Context, stage string, ms int64) {
	emitter()(ctx, "ingest_latency_ms", map[string]string{"stage": stage}, ms)
}

// EmitRowCount records rows touched by an operation on a table.
// name: "ingest_row_count" with labels {"op": "<query|insert|skip|replace>", "table": "<name>"}
func EmitRowCount(ctx context.Context, op, table string, rows int64) {
	emitter()(ctx, "ingest_row_count", map[string]string{"op": op, "table": table}, rows)
}

// EmitFetchAttempt records one HTTP attempt and whether it succeeded.
func EmitFetchAttempt(ctx context.Context, host string, attempt int, ok bool) {
	labels := map[string]string{
		"host":    host,
		"attempt": strconv.Itoa(attempt),
		"ok":      strconv.FormatBool(ok),
	}
	emitter()(ctx, "ingest_fetch_attempt", labels, 1)
}
