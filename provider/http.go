package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Persevera-Asset-Management/PerseveraTools/config"
)

func newRetryClient(cfg config.BackoffConfig, logger *slog.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.RetryMax = cfg.RetryMax
	client.Logger = logger
	return client
}

// fetchBytes GETs the URL and returns the body and status code. Non-2xx
// statuses are returned to the caller, not treated as errors, so sources
// can decide how to handle 404s and similar.
func fetchBytes(ctx context.Context, client *retryablehttp.Client, url string) ([]byte, int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}

// fetchJSON GETs the URL and decodes the response body into v.
func fetchJSON(ctx context.Context, client *retryablehttp.Client, url string, v any) error {
	body, status, err := fetchBytes(ctx, client, url)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", status, truncateBody(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
