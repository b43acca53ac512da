package powerbi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultEndpoint = "https://wabi-us-gov-virginia-api.analysis.usgovcloudapi.net/public/reports/querydata?synchronous=true"

type Client struct {
	endpoint string
	client   *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch posts the query and reshapes the response. Transport failures are
// returned as errors; bad status codes and unparsable bodies are reported
// through the result's Status.
func (c *Client) Fetch(ctx context.Context, q Query) (*ScrapeResult, error) {
	body, err := q.Body()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug().
		Str("mode", q.Mode).
		Str("endpoint", c.endpoint).
		Int("body_bytes", len(body)).
		Msg("Posting querydata request")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result := &ScrapeResult{
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now(),
		Raw:        raw,
	}

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusHTTPError
		log.Warn().
			Int("status_code", resp.StatusCode).
			Str("body", truncate(raw, 200)).
			Msg("querydata request returned non-200 status")
		return result, nil
	}

	rows, err := ParseRows(raw)
	if err != nil {
		result.Status = StatusParseError
		result.ParseErr = err
		log.Warn().Err(err).Int("body_bytes", len(raw)).Msg("Could not parse querydata response; treating as zero rows")
		return result, nil
	}

	result.Status = StatusOK
	result.Rows = rows
	log.Debug().Int("rows", len(rows)).Msg("Parsed querydata response")
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
