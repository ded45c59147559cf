package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/netledger/pkg/api"
)

// ErrNotLeader is returned when a mutation reached a follower
var ErrNotLeader = errors.New("node is not the leader")

// ErrNotFound is returned when a queried resource is not registered
var ErrNotFound = errors.New("resource not registered")

// Client talks to a node's HTTP API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the node listening at addr ("host:port" or
// a full URL)
func NewClient(addr string) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address: %w", err)
	}

	return &Client{
		baseURL: strings.TrimSuffix(u.String(), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// StatusError is a non-2xx answer from the server
type StatusError struct {
	Code    int
	Message string
	Leader  string
}

func (e *StatusError) Error() string {
	if e.Leader != "" {
		return fmt.Sprintf("%s (status %d, leader %s)", e.Message, e.Code, e.Leader)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Code)
}

// Unwrap maps well-known statuses to sentinel errors
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusMisdirectedRequest:
		return ErrNotLeader
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Code: resp.StatusCode, Message: e.Error, Leader: e.Leader}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) mutate(ctx context.Context, path string, in interface{}) (bool, error) {
	var resp api.ResultResponse
	if err := c.do(ctx, http.MethodPost, path, nil, in, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

// Register adds resources given by their canonical path
func (c *Client) Register(ctx context.Context, resources []string) (bool, error) {
	return c.mutate(ctx, "/v1/register", api.RegisterRequest{Resources: resources})
}

// Unregister removes resources by id
func (c *Client) Unregister(ctx context.Context, ids []string) (bool, error) {
	return c.mutate(ctx, "/v1/unregister", api.UnregisterRequest{IDs: ids})
}

// Allocate binds resources to consumer
func (c *Client) Allocate(ctx context.Context, consumer string, resources []string) (bool, error) {
	return c.mutate(ctx, "/v1/allocate", api.AllocateRequest{Consumer: consumer, Resources: resources})
}

// Release frees resources held by consumer
func (c *Client) Release(ctx context.Context, consumer string, resources []string) (bool, error) {
	return c.mutate(ctx, "/v1/release", api.ReleaseRequest{Consumer: consumer, Resources: resources})
}

// GetResource returns a registered resource with its allocations
func (c *Client) GetResource(ctx context.Context, id string) (*api.ResourceResponse, error) {
	var resp api.ResourceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/resource", url.Values{"id": {id}}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) list(ctx context.Context, path string, query url.Values) ([]string, error) {
	var resp api.ResourcesResponse
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Resources, nil
}

// Children lists the resources registered under parent
func (c *Client) Children(ctx context.Context, parent string) ([]string, error) {
	return c.list(ctx, "/v1/children", url.Values{"parent": {parent}})
}

// Available lists the children of parent that can still be allocated
func (c *Client) Available(ctx context.Context, parent string) ([]string, error) {
	return c.list(ctx, "/v1/available", url.Values{"parent": {parent}})
}

// Allocated lists the allocated children of parent of the given kind
func (c *Client) Allocated(ctx context.Context, parent, kind string) ([]string, error) {
	return c.list(ctx, "/v1/allocated", url.Values{"parent": {parent}, "kind": {kind}})
}

// ConsumerResources lists everything consumer holds
func (c *Client) ConsumerResources(ctx context.Context, consumer string) ([]string, error) {
	return c.list(ctx, "/v1/consumers/"+url.PathEscape(consumer), nil)
}

// IsAvailable reports whether resource could be allocated right now
func (c *Client) IsAvailable(ctx context.Context, resource string) (bool, error) {
	var resp api.AvailabilityResponse
	if err := c.do(ctx, http.MethodGet, "/v1/availability", url.Values{"resource": {resource}}, nil, &resp); err != nil {
		return false, err
	}
	return resp.Available, nil
}
