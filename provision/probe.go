package provision

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ProbeHTTP polls an endpoint until it answers with a non-5xx status or the
// wait budget is spent. Used after service start to confirm the backend is
// actually serving, not just supervised.
func ProbeHTTP(ctx context.Context, url string, wait time.Duration) error {
	client := &http.Client{Timeout: 5 * time.Second}
	deadline := time.Now().Add(wait)

	var lastErr error
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return nil
			}
			lastErr = fmt.Errorf("endpoint returned %s", resp.Status)
		} else {
			lastErr = err
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("backend did not become healthy within %s: %w", wait, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
