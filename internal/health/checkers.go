package health

import (
	"context"
	"fmt"
	"net/http"
)

// Pinger is satisfied by connection pools that expose a Ping method, such as
// pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker returns a [Checker] that pings a database pool.
func PingChecker(name string, p Pinger) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// EndpointChecker returns a [Checker] that probes an HTTP model-server
// endpoint. Any response below 500 counts as healthy; a recogniser that
// answers 404 on its root path is still up.
func EndpointChecker(name, url string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("health: build request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("health: %s returned status %d", url, resp.StatusCode)
			}
			return nil
		},
	}
}
