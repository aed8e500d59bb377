// Package drivefs implements the remote store against a REST file-hosting
// API of the "user-visible drive" kind: files live in named folders, every
// write bumps an opaque revision, and a stale If-Match comes back as 412.
package drivefs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/remote"
)

// TokenProvider returns the current bearer token. The accessor's refresh
// path updates the underlying token; this indirection lets in-flight clients
// pick the new value up.
type TokenProvider func() string

// Config holds HTTP backend configuration
type Config struct {
	BaseURL string
	Token   TokenProvider
	Timeout time.Duration
}

// Client is an HTTP-backed remote.Store.
type Client struct {
	baseURL string
	token   TokenProvider
	http    *http.Client
	log     zerolog.Logger
}

// fileResource is the hosting service's file representation.
type fileResource struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Revision     string    `json:"revision"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Size         int64     `json:"size"`
}

// New creates an HTTP store client
func New(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("client", "drivefs").Logger(),
	}
}

// GetMetadata implements remote.Store
func (c *Client) GetMetadata(ctx context.Context, fileID string) (*remote.FileMeta, error) {
	var res fileResource
	if err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/meta", nil, nil, &res); err != nil {
		return nil, err
	}
	return toMeta(&res), nil
}

// Download implements remote.Store
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/content", nil, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", remote.ErrServiceUnavailable, err)
	}

	return raw, nil
}

// Upload implements remote.Store. expectedRevision becomes an If-Match
// header; a 412 is mapped to a ConflictError with the live state the
// service reports alongside the rejection.
func (c *Client) Upload(ctx context.Context, fileID string, content []byte, expectedRevision string) (*remote.FileMeta, error) {
	headers := map[string]string{"Content-Type": "application/json"}
	if expectedRevision != "" {
		headers["If-Match"] = expectedRevision
	}

	req, err := c.newRequest(ctx, http.MethodPut, "/files/"+url.PathEscape(fileID)+"/content", bytes.NewReader(content), headers)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed {
		return nil, c.conflictFrom(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var res fileResource
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: decoding upload response: %v", remote.ErrServiceUnavailable, err)
	}

	return toMeta(&res), nil
}

// FindFile implements remote.Store
func (c *Client) FindFile(ctx context.Context, name, folderID string) (*remote.FileMeta, error) {
	query := url.Values{"name": {name}}
	if folderID != "" {
		query.Set("folder", folderID)
	}

	var results []fileResource
	if err := c.do(ctx, http.MethodGet, "/files?"+query.Encode(), nil, nil, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", remote.ErrNotFound, name)
	}

	return toMeta(&results[0]), nil
}

// CreateFile implements remote.Store
func (c *Client) CreateFile(ctx context.Context, name string, content []byte, folderID string) (*remote.FileMeta, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"name":     name,
		"folderId": folderID,
		"content":  string(content),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode create request: %w", err)
	}

	var res fileResource
	headers := map[string]string{"Content-Type": "application/json"}
	if err := c.do(ctx, http.MethodPost, "/files", bytes.NewReader(payload), headers, &res); err != nil {
		return nil, err
	}

	return toMeta(&res), nil
}

// GetOrCreateFolder implements remote.Store
func (c *Client) GetOrCreateFolder(ctx context.Context, name string) (string, error) {
	var folders []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/folders?name="+url.QueryEscape(name), nil, nil, &folders); err != nil {
		return "", err
	}
	if len(folders) > 0 {
		return folders[0].ID, nil
	}

	payload, _ := json.Marshal(map[string]string{"name": name})
	var created struct {
		ID string `json:"id"`
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if err := c.do(ctx, http.MethodPost, "/folders", bytes.NewReader(payload), headers, &created); err != nil {
		return "", err
	}

	c.log.Info().Str("folder_id", created.ID).Str("name", name).Msg("Folder created")

	return created.ID, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body, headers)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", remote.ErrServiceUnavailable, err)
	}

	return nil
}

// conflictFrom builds a ConflictError from a 412 response. The service
// reports the live revision in the body (or the ETag header as fallback).
func (c *Client) conflictFrom(resp *http.Response) error {
	ce := &remote.ConflictError{}

	var body struct {
		Revision     string    `json:"revision"`
		ModifiedTime time.Time `json:"modifiedTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		ce.LiveRevision = body.Revision
		ce.ModifiedTime = body.ModifiedTime
	}
	if ce.LiveRevision == "" {
		ce.LiveRevision = resp.Header.Get("ETag")
	}

	return ce
}

func (c *Client) statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: HTTP 404", remote.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", remote.ErrAuthExpired, resp.StatusCode)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", remote.ErrServiceUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}
}

func toMeta(res *fileResource) *remote.FileMeta {
	return &remote.FileMeta{
		ID:           res.ID,
		Name:         res.Name,
		Revision:     res.Revision,
		ModifiedTime: res.ModifiedTime,
		Size:         res.Size,
	}
}
