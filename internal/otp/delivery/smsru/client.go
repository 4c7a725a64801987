// Package smsru sends raw SMS through the SMS.ru HTTP API.
// See https://sms.ru/api/send.
package smsru

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ShiroSan123/otp-valhalla/internal/phone"
)

const (
	defaultBaseURL = "https://sms.ru"
	defaultTimeout = 15 * time.Second
)

// Client sends SMS via SMS.ru.
type Client struct {
	APIID      string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewClient returns a client that uses the given api_id and optional base URL/sender.
func NewClient(apiID, baseURL, sender string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		APIID:      apiID,
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type sendResponse struct {
	Status     string                   `json:"status"`
	StatusCode int                      `json:"status_code"`
	StatusText string                   `json:"status_text"`
	SMS        map[string]messageStatus `json:"sms"`
}

type messageStatus struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	StatusText string `json:"status_text"`
	SMSID      string `json:"sms_id"`
}

// Error is a rejection reported by SMS.ru; Text is the API's status_text.
type Error struct {
	Code int
	Text string
}

func (e *Error) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("smsru: rejected with status_code=%d", e.Code)
	}
	return e.Text
}

// Send delivers text to the number and returns the SMS.ru message id.
// The number is sent as digits only, which is also how SMS.ru keys the per-number status. Does not log the text.
func (c *Client) Send(ctx context.Context, number, text string) (string, error) {
	if c.APIID == "" {
		return "", fmt.Errorf("smsru: api_id not configured")
	}
	to := phone.Digits(number)
	if to == "" {
		return "", fmt.Errorf("smsru: no digits in phone %q", number)
	}
	form := url.Values{}
	form.Set("api_id", c.APIID)
	form.Set("to", to)
	form.Set("msg", text)
	form.Set("json", "1")
	if c.Sender != "" {
		form.Set("from", c.Sender)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/sms/send", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("smsru: request failed status=%d body=%s", resp.StatusCode, string(body))
	}

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("smsru: decode response: %w", err)
	}
	if out.Status != "OK" {
		return "", &Error{Code: out.StatusCode, Text: out.StatusText}
	}
	msg, ok := out.SMS[to]
	if !ok {
		return "", fmt.Errorf("smsru: no status for %s in response", to)
	}
	if msg.Status != "OK" {
		return "", &Error{Code: msg.StatusCode, Text: msg.StatusText}
	}
	return msg.SMSID, nil
}
