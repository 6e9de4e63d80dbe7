package slurmapi

import (
	"context"
	"encoding/json"

	"github.com/slurmmon/slurmmon/internal/remote"
)

// PingResponse is the part of /ping the client looks at.
type PingResponse struct {
	Pings []struct {
		Hostname string `json:"hostname"`
		Ping     string `json:"ping"`
		Status   int    `json:"status"`
		Mode     string `json:"mode"`
	} `json:"pings"`
	Errors []APIError `json:"errors"`
}

// APIError is an entry of the errors array slurmrestd returns.
type APIError struct {
	Error       string `json:"error"`
	ErrorNumber int    `json:"errno"`
}

// Ping calls /slurm/{version}/ping. Any non-2xx answer is a CONNECTIVITY
// error. A 2xx body that is not the expected JSON is accepted.
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	path := c.SlurmPath("ping")
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, statusError(path, resp)
	}

	var pr PingResponse
	if err := json.Unmarshal(resp.Body, &pr); err != nil {
		c.log.Debug("ping body is not JSON: %v", err)
		return &pr, nil
	}
	for _, p := range pr.Pings {
		c.log.Info("controller %s (%s): %s", p.Hostname, p.Mode, p.Ping)
	}
	for _, e := range pr.Errors {
		c.log.Warn("slurmrestd reported: %s (errno %d)", e.Error, e.ErrorNumber)
	}
	return &pr, nil
}

// PingOperation returns the connectivity probe as a tunneled operation.
func PingOperation(opts Options) remote.OperationFunc[struct{}] {
	return func(ctx context.Context, oc remote.OperationContext) (struct{}, error) {
		_, err := NewClient(oc, opts).Ping(ctx)
		return struct{}{}, err
	}
}
