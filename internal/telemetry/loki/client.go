// Package loki pushes audit event lines to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Job is the stream label every pushed line carries.
const Job = "otp-valhalla"

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // [timestamp_ns, line]
}

var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// eventFields are the parts of an audit event JSON used for labels and timestamp.
// Phone and session id stay in the line; they would explode stream cardinality as labels.
type eventFields struct {
	EventType  string `json:"eventType"`
	OccurredAt string `json:"occurredAt"`
	Session    struct {
		Provider string `json:"provider"`
		Status   string `json:"status"`
	} `json:"session"`
}

// Client pushes to one Loki instance.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for baseURL (e.g. http://localhost:3100).
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// LabelsFor parses an audit event JSON (a Kafka message value) and returns its stream labels and timestamp.
// Unparseable input yields no labels and the current time.
func LabelsFor(rawJSON []byte) (map[string]string, time.Time) {
	labels := map[string]string{}
	ts := time.Now().UTC()
	var fields eventFields
	if err := json.Unmarshal(rawJSON, &fields); err != nil {
		return labels, ts
	}
	if fields.EventType != "" {
		labels["event_type"] = fields.EventType
	}
	if fields.Session.Provider != "" {
		labels["provider"] = fields.Session.Provider
	}
	if fields.Session.Status != "" {
		labels["status"] = fields.Session.Status
	}
	if fields.OccurredAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, fields.OccurredAt); err == nil {
			ts = t
		}
	}
	return labels, ts
}

// PushEventJSON pushes rawJSON as one line labelled from its content.
func (c *Client) PushEventJSON(ctx context.Context, rawJSON []byte) error {
	labels, ts := LabelsFor(rawJSON)
	return c.Push(ctx, ts, string(rawJSON), labels)
}

// Push sends a single line. A non-2xx response is an error.
func (c *Client) Push(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	if c.BaseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = Job
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	payload, err := json.Marshal(PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
		}},
	})
	if err != nil {
		return err
	}
	url := strings.TrimSuffix(c.BaseURL, "/") + "/loki/api/v1/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
