package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/voicegate-lab/internal/logging"
)

// postWithRetries posts body to url with retry/backoff and returns the
// response. Caller must close resp.Body. The parent ctx bounds every
// attempt; retries stop once it is done.
func postWithRetries(ctx context.Context, client *http.Client, url, contentType string, body []byte, authToken string, attempts int, correlationID string) (*http.Response, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, rerr := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if rerr != nil {
			logging.Debugw("postWithRetries: new request error", "err", rerr, "correlation_id", correlationID)
			return nil, rerr
		}
		req.Header.Set("Content-Type", contentType)
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}
		if correlationID != "" {
			req.Header.Set("X-Correlation-ID", correlationID)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			logging.Debugw("postWithRetries: POST attempt failed", "attempt", i+1, "err", err, "correlation_id", correlationID)
			if i < attempts-1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(200*(1<<i)) * time.Millisecond):
				}
				continue
			}
			return nil, err
		}
		if resp.StatusCode >= 500 && i < attempts-1 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error status=%d", resp.StatusCode)
			logging.Warnw("postWithRetries: server error", "status", resp.StatusCode, "attempt", i+1, "correlation_id", correlationID)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(200*(1<<i)) * time.Millisecond):
			}
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}
