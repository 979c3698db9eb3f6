// Package healthcheck provides [domain.HealthCheck] implementations: an
// HTTP readiness probe and a TCP connect probe. The readiness criterion
// stays pluggable; these are the two checks the CLI wires by default.
package healthcheck

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// HTTP probes a readiness endpoint. Any 2xx status is healthy, any other
// status is unhealthy, and transport errors are unknown (the monitor
// retries those rather than failing the instance).
type HTTP struct {
	URL    string
	Client *http.Client
}

func (c *HTTP) Probe(ctx context.Context, _ domain.Instance) (domain.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return domain.HealthUnknown, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return domain.HealthUnknown, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return domain.HealthHealthy, nil
	}
	return domain.HealthUnhealthy, nil
}

func (c *HTTP) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// TCP probes by connecting to an address. A successful connect is
// healthy; a refused or timed-out connect is unknown.
type TCP struct {
	Address     string
	DialTimeout time.Duration
}

func (c *TCP) Probe(ctx context.Context, _ domain.Instance) (domain.Health, error) {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return domain.HealthUnknown, err
	}
	conn.Close()
	return domain.HealthHealthy, nil
}
