// Package gateway sends reminders through an HTTP messaging gateway.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"remind/internal/transport"
)

type Client struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	HTTP       *http.Client
}

type sendResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

var _ transport.Sender = (*Client)(nil)

// Endpoint is the messages resource for an account under baseURL.
func Endpoint(baseURL, accountSID string) string {
	return strings.TrimRight(baseURL, "/") + "/v1/accounts/" + url.PathEscape(accountSID) + "/messages"
}

func (c *Client) Send(ctx context.Context, recipient, text string) error {
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("Body", text)
	if c.FromNumber != "" {
		form.Set("From", c.FromNumber)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, Endpoint(c.BaseURL, c.AccountSID), strings.NewReader(form.Encode()))
	if err != nil {
		return &transport.Error{Kind: transport.KindRejected, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.AuthToken != "" {
		req.SetBasicAuth(c.AccountSID, c.AuthToken)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return classifyNetErr(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var out sendResponse
	_ = json.Unmarshal(b, &out)
	msg := out.Message
	if msg == "" {
		msg = "gateway send failed"
	}
	return &transport.Error{Kind: kindForStatus(resp.StatusCode), HTTPStatus: resp.StatusCode, Err: errors.New(msg)}
}

func kindForStatus(status int) transport.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return transport.KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return transport.KindTimeout
	case status >= 500:
		return transport.KindUnavailable
	}
	return transport.KindRejected
}

func classifyNetErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &transport.Error{Kind: transport.KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &transport.Error{Kind: transport.KindTimeout, Err: err}
	}
	return &transport.Error{Kind: transport.KindNetwork, Err: err}
}
