package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAPIBase     = "https://api.twilio.com"
	defaultHTTPTimeout = 15 * time.Second
)

// ErrCallRejected wraps a non-2xx response from the provider's call
// creation endpoint.
var ErrCallRejected = errors.New("telephony: call creation rejected")

// CallCreator places an outbound call that fetches its instructions from
// twimlURL when answered.
type CallCreator interface {
	CreateCall(ctx context.Context, to, from, twimlURL string) (callSID string, err error)
}

// RestClient talks to the Twilio REST API directly with a plain HTTP
// client, no provider SDK.
type RestClient struct {
	accountSID string
	authToken  string
	baseURL    string
	httpc      *http.Client
}

// RestOption tweaks client construction; used by tests to point at a
// local server.
type RestOption func(*RestClient)

func WithBaseURL(u string) RestOption {
	return func(c *RestClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) RestOption {
	return func(c *RestClient) { c.httpc = h }
}

func NewRestClient(accountSID, authToken string, opts ...RestOption) *RestClient {
	c := &RestClient{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    defaultAPIBase,
		httpc:      &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateCall places a call from `from` to `to`. Twilio fetches TwiML from
// twimlURL once the callee answers.
func (c *RestClient) CreateCall(ctx context.Context, to, from, twimlURL string) (string, error) {
	if c.accountSID == "" || c.authToken == "" {
		return "", errors.New("telephony: twilio credentials not configured")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Url", twimlURL)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony: call creation request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("telephony: read call creation response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s (status %d)", ErrCallRejected, apiErr.Message, resp.StatusCode)
	}

	var call struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &call); err != nil {
		return "", fmt.Errorf("telephony: decode call creation response: %w", err)
	}
	if call.SID == "" {
		return "", errors.New("telephony: call creation response missing sid")
	}
	return call.SID, nil
}
