// Package gateway wraps the customer-success backend REST API. Every logical
// operation is one at-most-once HTTP call against {base}/api/{endpoint} that
// carries the bearer credential.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// DefaultDataTimeout bounds ordinary JSON calls.
	DefaultDataTimeout = 30 * time.Second
	// DefaultDownloadTimeout bounds report generation and download calls.
	DefaultDownloadTimeout = 120 * time.Second
	// maxErrorBody caps how much of a failed response body is kept.
	maxErrorBody = 64 << 10
)

// APIError is returned when the backend answers with a non-2xx status.
type APIError struct {
	Method   string
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP Error: %d - %s", e.Status, e.Body)
}

// TransportError is returned when no usable response was received: timeout,
// DNS failure, refused connection or an undecodable body.
type TransportError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("API Request Failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Message renders a gateway failure for display to the operator.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	var trErr *TransportError
	if errors.As(err, &trErr) {
		return trErr.Error()
	}
	return err.Error()
}

// Opts holds parameters for creating a Client.
type Opts struct {
	BaseURL         string
	Key             string
	DataTimeout     time.Duration
	DownloadTimeout time.Duration
	Logger          *zap.Logger
	// For testing: base transport underneath the bearer-token transport.
	Transport http.RoundTripper
}

// Client issues authenticated requests to the backend.
type Client struct {
	base            string
	http            *http.Client
	dataTimeout     time.Duration
	downloadTimeout time.Duration
	log             *zap.Logger
}

// New creates a Client. BaseURL and Key are required.
func New(opts Opts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("gateway: base url is required")
	}
	if opts.Key == "" {
		return nil, fmt.Errorf("gateway: api key is required")
	}
	if opts.DataTimeout <= 0 {
		opts.DataTimeout = DefaultDataTimeout
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = DefaultDownloadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Key, TokenType: "Bearer"})
	return &Client{
		base:            strings.TrimRight(opts.BaseURL, "/"),
		http:            &http.Client{Transport: &oauth2.Transport{Source: ts, Base: base}},
		dataTimeout:     opts.DataTimeout,
		downloadTimeout: opts.DownloadTimeout,
		log:             opts.Logger,
	}, nil
}

// filePart is a single file field in a multipart body.
type filePart struct {
	field string
	name  string
	data  []byte
}

// request describes one backend call. At most one of form, json and file is
// the body; form fields accompany file in multipart calls.
type request struct {
	method   string
	endpoint string
	query    url.Values
	form     url.Values
	json     any
	file     *filePart
	download bool
}

func (c *Client) url(endpoint string, query url.Values) string {
	u := c.base + "/api/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (r request) body() (io.Reader, string, error) {
	switch {
	case r.file != nil:
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for k, vs := range r.form {
			for _, v := range vs {
				if err := mw.WriteField(k, v); err != nil {
					return nil, "", err
				}
			}
		}
		fw, err := mw.CreateFormFile(r.file.field, r.file.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(r.file.data); err != nil {
			return nil, "", err
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return &buf, mw.FormDataContentType(), nil
	case r.json != nil:
		b, err := json.Marshal(r.json)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(b), "application/json", nil
	case r.form != nil:
		return strings.NewReader(r.form.Encode()), "application/x-www-form-urlencoded", nil
	}
	return nil, "", nil
}

// do performs the call and returns the raw 2xx body. Failures are logged once
// here and returned as *APIError or *TransportError.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	timeout := c.dataTimeout
	if r.download {
		timeout = c.downloadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, contentType, err := r.body()
	if err != nil {
		return nil, c.transportErr(r, fmt.Errorf("encode body: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.url(r.endpoint, r.query), body)
	if err != nil {
		return nil, c.transportErr(r, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportErr(r, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Method: r.method, Endpoint: r.endpoint, Status: resp.StatusCode, Body: string(b)}
		c.log.Error("api request failed",
			zap.String("method", r.method),
			zap.String("endpoint", r.endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("body", apiErr.Body))
		return nil, apiErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportErr(r, fmt.Errorf("read body: %w", err))
	}
	return data, nil
}

// doJSON performs the call and decodes the JSON body into out.
func (c *Client) doJSON(ctx context.Context, r request, out any) error {
	data, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return c.transportErr(r, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) transportErr(r request, err error) error {
	c.log.Error("api request failed",
		zap.String("method", r.method),
		zap.String("endpoint", r.endpoint),
		zap.Error(err))
	return &TransportError{Method: r.method, Endpoint: r.endpoint, Err: err}
}
