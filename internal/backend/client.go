// Package backend talks to the hosted backend-as-a-service: table rows, realtime
// channels, edge functions and access-token claims.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"brokerage-client/internal/apperr"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

type Options struct {
	URL     string
	AnonKey string
	Timeout time.Duration
}

// Client carries the HTTP plumbing shared by tables and edge functions.
// Requests authenticate with the session's access token when one is set,
// otherwise with the anonymous key.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
}

func NewClient(opts Options, tokens oauth2.TokenSource) *Client {
	if tokens == nil {
		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AnonKey, TokenType: "Bearer"})
	}
	return &Client{
		baseURL: opts.URL,
		anonKey: opts.AnonKey,
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &oauth2.Transport{
				Source: tokens,
				Base:   otelhttp.NewTransport(http.DefaultTransport),
			},
		},
	}
}

// StaticToken wraps a session access token for NewClient.
func StaticToken(accessToken string) oauth2.TokenSource {
	if accessToken == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, headers map[string]string, body interface{}) (*http.Response, []byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.KindValidation, op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindFetch, op, err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindFetch, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindFetch, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, raw, decodeError(op, resp.StatusCode, raw)
	}
	return resp, raw, nil
}

// errorBody covers PostgREST, edge-function and gateway error shapes.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Msg     string `json:"msg"`
	Code    string `json:"code"`
	Details string `json:"details"`
}

func decodeError(op string, status int, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = body.Msg
	}
	if msg == "" && len(raw) > 0 && len(raw) < 512 && raw[0] != '{' {
		msg = string(raw)
	}
	return apperr.FromStatus(op, status, body.Code, msg)
}

func decodeJSON(op string, raw []byte, out interface{}) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.KindFetch, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
