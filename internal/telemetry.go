package internal

import (
	"context"
	"strconv"
	"sync"
)

// telemetry.go
// Lightweight telemetry hooks for embedding applications. The default
// emitter is a no-op so the client carries no metrics dependency; hosts
// register an OpenTelemetry-backed emitter (or a test stub) via
// RegisterTelemetryEmitter.

type telemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

var (
	teleMu   sync.Mutex
	teleImpl telemetryEmitter = func(ctx context.Context, name string, labels map[string]string, value any) {
		// noop by default
	}
)

// RegisterTelemetryEmitter registers a custom emitter function. Passing
// nil restores the no-op default.
func RegisterTelemetryEmitter(fn telemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(ctx context.Context, name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

func emit(ctx context.Context, name string, labels map[string]string, value any) {
	teleMu.Lock()
	fn := teleImpl
	teleMu.Unlock()
	fn(ctx, name, labels, value)
}

// EmitRequestLatency records one attempt's wall time in milliseconds.
// name: "dataverse_request_latency" with labels {"method", "status"}
func EmitRequestLatency(ctx context.Context, method string, status int, ms int64) {
	emit(ctx, "dataverse_request_latency", map[string]string{
		"method": method,
		"status": strconv.Itoa(status),
	}, ms)
}

// EmitRetry counts retry sleeps by trigger; "network" for transport
// failures, the status code for transient HTTP statuses.
// name: "dataverse_request_retries" with label {"reason"}
func EmitRetry(ctx context.Context, reason string, attempt int) {
	emit(ctx, "dataverse_request_retries", map[string]string{"reason": reason}, attempt)
}

// EmitCacheLookup counts metadata cache hits and misses.
// name: "dataverse_metadata_cache" with labels {"kind", "outcome"}
func EmitCacheLookup(ctx context.Context, kind string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	emit(ctx, "dataverse_metadata_cache", map[string]string{
		"kind":    kind,
		"outcome": outcome,
	}, 1)
}
