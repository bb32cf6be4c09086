package exporter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/juju/errors"
)

// healthCheckTimeout bounds a connectivity probe.
const healthCheckTimeout = 5 * time.Second

// TestConnectivity probes the Commcell with the configured connectivity
// check. A collector built without one always passes.
func (c *InventoryCollector) TestConnectivity(ctx context.Context) error {
	if c.opts.ping == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()
	}
	if err := c.opts.ping(ctx); err != nil {
		return errors.Annotate(err, "commcell connectivity test failed")
	}
	return nil
}

// IsHealthy reports whether the last inventory walk counted at least one
// collection. Before the first walk the collector is healthy.
func (c *InventoryCollector) IsHealthy() bool {
	c.scrapeMu.RLock()
	defer c.scrapeMu.RUnlock()
	return c.lastScrapeErr == nil
}

// HealthHandler serves /health. It answers 200 "OK" while the last walk
// succeeded and 503 otherwise. With ?check=connectivity the Commcell is
// probed as well.
func (c *InventoryCollector) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, "OK"

		c.scrapeMu.RLock()
		lastErr := c.lastScrapeErr
		c.scrapeMu.RUnlock()
		if lastErr != nil {
			status, body = http.StatusServiceUnavailable, "DEGRADED: "+lastErr.Error()
		}
		if r.URL.Query().Get("check") == "connectivity" {
			if err := c.TestConnectivity(r.Context()); err != nil {
				status, body = http.StatusServiceUnavailable, "UNREACHABLE: "+err.Error()
			}
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = fmt.Fprintln(w, body)
		if c.opts.breakerState != nil {
			_, _ = fmt.Fprintf(w, "breaker: %s\n", c.opts.breakerState())
		}
	})
}
