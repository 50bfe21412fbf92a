// Package telemetry posts named scalar metrics, tagged with an epoch
// number and a run label, to an external collector. All calls are best
// effort; the training loop logs failures and continues.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is a collector client bound to one named run.
type Client struct {
	endpoint   string
	runLabel   string
	httpClient *http.Client
	enabled    bool
}

// metricsPayload is one metrics submission.
type metricsPayload struct {
	Run     string             `json:"run"`
	Epoch   int                `json:"epoch"`
	Metrics map[string]float64 `json:"metrics"`
}

// NewClient creates a client for the given collector endpoint and run
// label. An empty endpoint yields a disabled client whose methods are
// no-ops.
func NewClient(endpoint, runLabel string) *Client {
	return &Client{
		endpoint: endpoint,
		runLabel: runLabel,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		enabled: endpoint != "",
	}
}

// IsEnabled returns whether the client posts anything.
func (c *Client) IsEnabled() bool { return c.enabled }

// RunLabel returns the run label metrics are tagged with.
func (c *Client) RunLabel() string { return c.runLabel }

// LogMetrics posts the named scalars tagged with the epoch.
func (c *Client) LogMetrics(metrics map[string]float64, epoch int) error {
	if !c.enabled {
		return nil
	}

	body, err := json.Marshal(metricsPayload{
		Run:     c.runLabel,
		Epoch:   epoch,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	resp, err := c.httpClient.Post(c.endpoint+"/api/metrics", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to post metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics post failed with status %d", resp.StatusCode)
	}
	return nil
}
