// Package slurmapi is a small client for the slurmrestd REST API.
package slurmapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/internal/remote"
)

// Header names slurmrestd reads for JWT auth.
const (
	HeaderUserName  = "X-SLURM-USER-NAME"
	HeaderUserToken = "X-SLURM-USER-TOKEN"
)

// DefaultVersion is the API version prefix used in resource paths.
const DefaultVersion = "v0.0.38"

// DefaultTimeout bounds each request.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBody caps how much of a response is read.
const DefaultMaxBody = 64 << 20

// Options configures a Client.
type Options struct {
	Version    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Log        logger.Logger
	// MaxBodyBytes rejects larger responses. Zero means DefaultMaxBody.
	MaxBodyBytes int64
}

// Client issues authenticated GETs against one base URL.
type Client struct {
	baseURL   string
	principal string
	token     string
	version   string
	http      *http.Client
	log       logger.Logger
	maxBody   int64
}

// NewClient creates a client for the endpoint and identity in oc.
func NewClient(oc remote.OperationContext, opts Options) *Client {
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Log == nil {
		opts.Log = logger.Noop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBody
	}
	return &Client{
		baseURL:   strings.TrimRight(oc.BaseURL, "/"),
		principal: oc.Principal,
		token:     oc.Token,
		version:   opts.Version,
		http:      opts.HTTPClient,
		log:       opts.Log,
		maxBody:   opts.MaxBodyBytes,
	}
}

// Version returns the API version prefix.
func (c *Client) Version() string {
	return c.version
}

// SlurmPath returns /slurm/{version}/{resource}.
func (c *Client) SlurmPath(resource string) string {
	return fmt.Sprintf("/slurm/%s/%s", c.version, strings.TrimLeft(resource, "/"))
}

// Response is a raw API answer.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get requests path and returns the body whatever the status. Only transport
// failures are errors.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Bad API URL %s", url),
			"Check the base URL")
	}
	req.Header.Set("Accept", "application/json")
	if c.principal != "" {
		req.Header.Set(HeaderUserName, c.principal)
	}
	if c.token != "" {
		req.Header.Set(HeaderUserToken, c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConnectivity,
			fmt.Sprintf("GET %s failed", path),
			"Check that the tunnel is up and slurmrestd is listening")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConnectivity,
			fmt.Sprintf("Reading response from %s failed", path),
			"")
	}
	if int64(len(body)) > c.maxBody {
		return nil, errors.New(errors.ErrConnectivity,
			fmt.Sprintf("Response from %s exceeds %d bytes", path, c.maxBody),
			"Narrow the request or raise the client body limit")
	}
	c.log.Debug("GET %s -> %d (%d bytes, %s)", path, resp.StatusCode, len(body), time.Since(start).Round(time.Millisecond))

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// statusError describes a non-2xx answer.
func statusError(path string, resp *Response) error {
	snippet := strings.TrimSpace(string(resp.Body))
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}
	suggestion := "Check the slurmrestd logs on the cluster"
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		suggestion = "The token was rejected. Check credential.principal and that JWT auth is enabled."
	}
	return errors.New(errors.ErrConnectivity,
		fmt.Sprintf("GET %s returned %d: %s", path, resp.StatusCode, snippet),
		suggestion)
}
