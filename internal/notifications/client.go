package notifications

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Client posts plain-text messages to an ntfy topic.
type Client struct {
	httpClient *http.Client
	baseURL    string
	topic      string
	enabled    bool
	priority   string
}

type NotificationError struct {
	Type       string
	StatusCode int
	Underlying error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification failed [%s]: %v", e.Type, e.Underlying)
}

func (e *NotificationError) Unwrap() error {
	return e.Underlying
}

func NewClient(baseURL, topic string, enabled bool, priority string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		topic:    topic,
		enabled:  enabled,
		priority: priority,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// SendNotification makes a single delivery attempt.
func (c *Client) SendNotification(ctx context.Context, title, message string) error {
	if !c.Enabled() {
		log.Debug().Msg("Notifications disabled, skipping")
		return nil
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, c.topic)

	log.Debug().
		Str("url", url).
		Str("title", title).
		Msg("Sending notification")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(message))
	if err != nil {
		return &NotificationError{Type: "client", Underlying: err}
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}
	if c.priority != "" {
		req.Header.Set("Priority", c.priority)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NotificationError{Type: "network", Underlying: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &NotificationError{
			Type:       categorizeHTTPError(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Underlying: fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}

	log.Debug().Int("status_code", resp.StatusCode).Msg("Notification sent successfully")
	return nil
}

// NotifyNewColumns announces municipalities seen for the first time.
func (c *Client) NotifyNewColumns(ctx context.Context, mode, worksheet string, columns []string) {
	if !c.Enabled() || len(columns) == 0 {
		return
	}

	message := formatNewColumnsMessage(mode, worksheet, columns)
	if err := c.SendNotification(ctx, "Wake COVID scrape: new municipalities", message); err != nil {
		log.Warn().Err(err).Msg("Failed to send new column notification")
	}
}

// NotifyRunFailed reports a run that did not record a successful row.
func (c *Client) NotifyRunFailed(ctx context.Context, mode string, cause error) {
	if !c.Enabled() || cause == nil {
		return
	}

	message := fmt.Sprintf("%s scrape failed: %v", mode, cause)
	if err := c.SendNotification(ctx, "Wake COVID scrape failed", message); err != nil {
		log.Warn().Err(err).Msg("Failed to send failure notification")
	}
}

func formatNewColumnsMessage(mode, worksheet string, columns []string) string {
	var sb strings.Builder

	if len(columns) == 1 {
		sb.WriteString(fmt.Sprintf("1 new column in %s (%s)\n", worksheet, mode))
	} else {
		sb.WriteString(fmt.Sprintf("%d new columns in %s (%s)\n", len(columns), worksheet, mode))
	}

	maxToShow := 10
	shown := min(len(columns), maxToShow)
	for _, col := range columns[:shown] {
		sb.WriteString(fmt.Sprintf("• %s\n", col))
	}
	if len(columns) > maxToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(columns)-maxToShow))
	}

	return strings.TrimSuffix(sb.String(), "\n")
}

func categorizeHTTPError(statusCode int) string {
	switch {
	case statusCode == 401 || statusCode == 403:
		return "auth"
	case statusCode == 429:
		return "rate_limit"
	case statusCode >= 400 && statusCode < 500:
		return "client"
	case statusCode >= 500:
		return "server"
	default:
		return "unknown"
	}
}
