package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"dfstore/helper"
	"dfstore/models"
)

// Client is the user-side driver. It talks metadata to the coordinator
// and chunk bytes directly to storage nodes.
type Client struct {
	coordinatorURL string
	workers        int
	httpc          *http.Client
}

// NewClient returns a client for the coordinator at coordinatorURL.
// A non-positive workers falls back to the default pool size.
func NewClient(coordinatorURL string, workers int) *Client {
	if workers <= 0 {
		workers = helper.DefaultTransferWorkers
	}
	return &Client{
		coordinatorURL: strings.TrimRight(coordinatorURL, "/"),
		workers:        workers,
		httpc:          &http.Client{Timeout: helper.DefaultRequestTimeout},
	}
}

// ListFiles returns every stored filename in lexicographic order.
func (c *Client) ListFiles() ([]string, error) {
	var names []string
	if err := c.getJSON("/files", &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Info returns the coordinator's record for name, including the full
// chunk plan.
func (c *Client) Info(name string) (*models.FileRecord, error) {
	var record models.FileRecord
	if err := c.getJSON("/files/"+url.PathEscape(name), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Nodes returns the coordinator's node registry.
func (c *Client) Nodes() ([]models.NodeInfo, error) {
	var nodes []models.NodeInfo
	if err := c.getJSON("/nodes", &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// registerFile asks the coordinator for a chunk plan. A rejected
// registration stores nothing anywhere.
func (c *Client) registerFile(name string, size int64) (*models.RegisterResponse, error) {
	body, err := json.Marshal(models.RegisterRequest{Filename: name, Size: size})
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Post(c.coordinatorURL+"/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("coordinator unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var plan models.RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		return nil, fmt.Errorf("decode chunk plan: %w", err)
	}
	return &plan, nil
}

func (c *Client) getJSON(path string, v any) error {
	resp, err := c.httpc.Get(c.coordinatorURL + path)
	if err != nil {
		return fmt.Errorf("coordinator unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// apiError converts a non-200 coordinator reply into the matching
// sentinel so callers can test with errors.Is.
func apiError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return helper.ErrFileNotFound
	case http.StatusConflict:
		return helper.ErrDuplicateFile
	case http.StatusServiceUnavailable:
		return helper.ErrNoActiveNodes
	}
	var body models.ErrorResponse
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return fmt.Errorf("coordinator: %s", msg)
}
