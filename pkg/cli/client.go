package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/schoolwelfare/caseboard/pkg/audit"
	"github.com/schoolwelfare/caseboard/pkg/rbac"
)

// APIError is a non-2xx reply from the server
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to the caseboard HTTP API
type Client struct {
	baseURL string
	actor   string
	http    *http.Client
}

// NewClient creates a client. actor, when set, is sent as X-User-ID.
func NewClient(baseURL, actor string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		actor:   actor,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set(audit.HeaderActorID, c.actor)
	}

	log.WithFields(logrus.Fields{"method": method, "url": u}).Debug("Sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: body.Error}
	}
	return resp, nil
}

func (c *Client) decode(ctx context.Context, method, path string, query url.Values, body []byte, dest interface{}) error {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// download returns the body and the filename from Content-Disposition
func (c *Client) download(ctx context.Context, path string, query url.Values) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	var filename string
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	return data, filename, nil
}

// ExportSnapshot downloads the permission snapshot
func (c *Client) ExportSnapshot(ctx context.Context) ([]byte, string, error) {
	return c.download(ctx, "/snapshot", nil)
}

// ImportSnapshot uploads a snapshot and returns the user count reported back
func (c *Client) ImportSnapshot(ctx context.Context, data []byte) (int, error) {
	var reply struct {
		Data struct {
			Users int `json:"users"`
		} `json:"data"`
	}
	if err := c.decode(ctx, http.MethodPost, "/snapshot", nil, data, &reply); err != nil {
		return 0, err
	}
	return reply.Data.Users, nil
}

// ExportAudit downloads the audit log in format, filtered by query
func (c *Client) ExportAudit(ctx context.Context, format audit.ExportFormat, query url.Values) ([]byte, string, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("format", string(format))
	return c.download(ctx, "/audit/export", query)
}

// Bulk grants (add) or revokes (remove) one permission for every user
func (c *Client) Bulk(ctx context.Context, add bool, req rbac.BulkRequest) (*rbac.BulkResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	path := "/bulk/remove"
	if add {
		path = "/bulk/add"
	}

	var result rbac.BulkResult
	if err := c.decode(ctx, http.MethodPost, path, nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Check asks whether user holds module:action
func (c *Client) Check(ctx context.Context, user, module, action string) (bool, error) {
	var reply struct {
		Allowed bool `json:"allowed"`
	}
	query := url.Values{"user": {user}, "module": {module}, "action": {action}}
	if err := c.decode(ctx, http.MethodGet, "/check", query, nil, &reply); err != nil {
		return false, err
	}
	return reply.Allowed, nil
}
