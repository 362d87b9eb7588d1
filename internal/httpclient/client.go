// Package httpclient is a client for the job coordination API served by
// package server. Error codes in responses map back to the jobs sentinels,
// so callers handle remote and in-process claims the same way.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/version"
)

const (
	DefaultTimeout = 30 * time.Second
	maxRedirects   = 3
	maxErrorBody   = 64 * 1024
)

// Client talks to one coordination server
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for baseURL, e.g. http://localhost:8780
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid server URL")
	}
	if err := validateURL(u); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	hc := &http.Client{Timeout: timeout}
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errors.Newf("stopped after %d redirects", maxRedirects)
		}
		if req.URL.Host != u.Host {
			return errors.Newf("redirect to %s blocked", req.URL.Host)
		}
		return nil
	}
	return &Client{base: u, http: hc}, nil
}

func validateURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("scheme %q not allowed (allowed: http, https)", u.Scheme)
	}
	if u.User != nil {
		return errors.New("server URL must not carry credentials")
	}
	if u.Hostname() == "" {
		return errors.New("server URL missing hostname")
	}
	return nil
}

// jobsToRunResponse mirrors server.JobsToRunResponse
type jobsToRunResponse struct {
	Jobs  []jobs.JobContext `json:"jobs"`
	Count int               `json:"count"`
}

type claimResponse struct {
	Job jobs.JobContext `json:"job"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// JobsToRun fetches the due list. disableCache asks the server to recompute it.
func (c *Client) JobsToRun(ctx context.Context, disableCache bool) ([]jobs.JobContext, error) {
	q := url.Values{}
	if disableCache {
		q.Set("disableCache", "true")
	}
	var resp jobsToRunResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs_to_run", q, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Get implements worker.Candidates
func (c *Client) Get(ctx context.Context, forceRefresh bool) ([]jobs.JobContext, error) {
	return c.JobsToRun(ctx, forceRefresh)
}

// ClaimJob claims an instance for workerID
func (c *Client) ClaimJob(ctx context.Context, instanceID, workerID string) (jobs.JobContext, error) {
	var resp claimResponse
	err := c.do(ctx, http.MethodPatch, "/v1/claim_job", ownerQuery(instanceID, workerID), &resp)
	if err != nil {
		return jobs.JobContext{}, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", instanceID))
	}
	return resp.Job, nil
}

// UnclaimJob returns an owned instance to the due list
func (c *Client) UnclaimJob(ctx context.Context, instanceID, workerID string) error {
	err := c.do(ctx, http.MethodPatch, "/v1/unclaim_job", ownerQuery(instanceID, workerID), nil)
	if err != nil {
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", instanceID))
	}
	return nil
}

func ownerQuery(instanceID, workerID string) url.Values {
	q := url.Values{}
	q.Set("job_instance_id", instanceID)
	q.Set("worker_id", workerID)
	return q
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, out interface{}) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "failed to build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.Get().UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode %s response", path)
	}
	return nil
}

// decodeError maps an error response to the sentinel the server derived it from
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var e errorResponse
	if json.Unmarshal(body, &e) != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(body))
	}

	var base error
	switch e.Code {
	case "claim_conflict":
		base = jobs.ErrClaimConflict
	case "already_running":
		base = jobs.ErrAlreadyRunning
	case "definition_inactive":
		base = jobs.ErrDefinitionInactive
	case "not_owner":
		base = jobs.ErrNotOwner
	case "not_found":
		base = errors.ErrNotFound
	case "invalid_request":
		base = errors.ErrInvalidRequest
	default:
		return errors.Newf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return errors.Wrapf(base, "server returned %d: %s", resp.StatusCode, e.Error)
}
