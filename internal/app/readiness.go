package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns the named readiness probes for the process.
// Either dependency may be nil when a process does not use it.
func BuildReadinessChecks(store Pinger, pool Pinger) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if store != nil {
		checks["redis"] = func(ctx context.Context) error { return store.Ping(ctx) }
	} else {
		checks["redis"] = func(context.Context) error { return fmt.Errorf("redis not configured") }
	}
	if pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}
	return checks
}

// ReadyzHandler runs every probe with a short deadline and reports 503 when
// any fails.
func ReadyzHandler(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
			} else {
				results[name] = "ok"
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(results)
	}
}
