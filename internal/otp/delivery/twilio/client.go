// Package twilio talks to the Twilio Verify v2 API, which owns code generation and checking.
// See https://www.twilio.com/docs/verify/api.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://verify.twilio.com"
	defaultTimeout = 15 * time.Second
)

// Verification statuses returned by the API.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusCanceled = "canceled"
)

// Client calls a single Verify service.
type Client struct {
	AccountSID string
	AuthToken  string
	ServiceSID string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a Verify client for serviceSID authenticated with accountSID/authToken.
func NewClient(accountSID, authToken, serviceSID, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		AccountSID: accountSID,
		AuthToken:  authToken,
		ServiceSID: serviceSID,
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Verification is the subset of the Verify resource this service reads.
type Verification struct {
	SID     string `json:"sid"`
	To      string `json:"to"`
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Valid   bool   `json:"valid"`
}

// Approved reports whether the check succeeded.
func (v *Verification) Approved() bool {
	return v != nil && v.Status == StatusApproved
}

// APIError is a non-2xx response; Message is Twilio's human-readable text.
type APIError struct {
	Status   int    `json:"status"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (e *APIError) Error() string {
	return e.Message
}

// StartVerification sends a code to "to" over SMS and returns the pending verification.
func (c *Client) StartVerification(ctx context.Context, to string) (*Verification, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("Channel", "sms")
	return c.post(ctx, "Verifications", form)
}

// CheckVerification submits code for the verification identified by sid.
func (c *Client) CheckVerification(ctx context.Context, sid, code string) (*Verification, error) {
	form := url.Values{}
	form.Set("VerificationSid", sid)
	form.Set("Code", code)
	return c.post(ctx, "VerificationCheck", form)
}

func (c *Client) post(ctx context.Context, resource string, form url.Values) (*Verification, error) {
	if c.AccountSID == "" || c.AuthToken == "" || c.ServiceSID == "" {
		return nil, fmt.Errorf("twilio: credentials not configured")
	}
	endpoint := fmt.Sprintf("%s/v2/Services/%s/%s", c.BaseURL, url.PathEscape(c.ServiceSID), resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("twilio: request failed status=%d body=%s", resp.StatusCode, string(body))
		}
		return nil, apiErr
	}

	var v Verification
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("twilio: decode response: %w", err)
	}
	return &v, nil
}
