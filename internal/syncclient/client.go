// Package syncclient talks to the sync authority: HTTP for fetching whole
// objects and a websocket connection for the revision protocol.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/marcus/revsync/internal/revision"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
)

// Client is an HTTP client for the sync authority.
type Client struct {
	BaseURL  string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new sync client.
func New(baseURL, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ObjectResponse is the response from GET /v1/objects/{id}/revisions.
type ObjectResponse struct {
	ObjectID  string              `json:"object_id"`
	RevID     int64               `json:"rev_id"`
	Revisions []revision.Revision `json:"revisions"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchObject downloads every revision the authority holds for objectID.
// It implements revision.CloudService.
func (c *Client) FetchObject(ctx context.Context, userID, objectID string) ([]revision.Revision, error) {
	path := fmt.Sprintf("/v1/objects/%s/revisions", url.PathEscape(objectID))
	if userID != "" {
		path += "?user=" + url.QueryEscape(userID)
	}
	var resp ObjectResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", objectID, err)
	}
	return resp.Revisions, nil
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var wrapper struct {
			Error apiError `json:"error"`
		}
		if json.Unmarshal(respBody, &wrapper) == nil && wrapper.Error.Code != "" {
			switch resp.StatusCode {
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", ErrNotFound, wrapper.Error.Message)
			case http.StatusTooManyRequests:
				return fmt.Errorf("%w: %s", ErrRateLimited, wrapper.Error.Message)
			default:
				return &wrapper.Error
			}
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
