package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GetWhoAmI fetches the diagnostic identity of the backend at baseURL.
func (c *Client) GetWhoAmI(ctx context.Context, baseURL string) (*WhoAmI, error) {
	var resp WhoAmI
	if err := c.get(ctx, baseURL, c.whoamiPath, &resp); err != nil {
		return nil, fmt.Errorf("whoami %s: %w", baseURL, err)
	}
	return &resp, nil
}

// CheckHealth probes baseURL once and returns the response time. Any 2xx
// status is healthy. There are no retries; the caller bounds the probe with
// ctx.
func (c *Client) CheckHealth(ctx context.Context, baseURL string) (time.Duration, error) {
	start := time.Now()
	_, err := c.doRequest(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+c.healthPath, nil)
	elapsed := time.Since(start)
	if err != nil {
		return 0, fmt.Errorf("health %s: %w", baseURL, err)
	}
	return elapsed, nil
}
