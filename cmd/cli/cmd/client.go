package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"runtimed/pkg/api"
)

// Client handles API calls to the runtimed daemon.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends a request and decodes the JSON response into out when out is not nil.
// Any status outside 2xx becomes an *APIError.
func (c *Client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var er api.ErrorResponse
		if json.Unmarshal(respBody, &er) == nil && er.Error != "" {
			apiErr.Code = er.Code
			apiErr.Message = er.Error
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// RegisterRuntime sends POST /runtimes.
func (c *Client) RegisterRuntime(descriptor json.RawMessage) (*api.RegisterRuntimeResponse, error) {
	var result api.RegisterRuntimeResponse
	if err := c.do(http.MethodPost, "/runtimes", api.RegisterRuntimeRequest{Descriptor: descriptor}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRuntimes sends GET /runtimes.
func (c *Client) ListRuntimes() ([]api.RuntimeResponse, error) {
	var result api.ListRuntimesResponse
	if err := c.do(http.MethodGet, "/runtimes", nil, &result); err != nil {
		return nil, err
	}
	return result.Runtimes, nil
}

// GetRuntime sends GET /runtimes/{id}.
func (c *Client) GetRuntime(runtimeID string) (*api.RuntimeResponse, error) {
	var result api.RuntimeResponse
	if err := c.do(http.MethodGet, "/runtimes/"+url.PathEscape(runtimeID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkReady sends POST /runtimes/{id}/ready.
func (c *Client) MarkReady(runtimeID string) (*api.RuntimeResponse, error) {
	var result api.RuntimeResponse
	if err := c.do(http.MethodPost, "/runtimes/"+url.PathEscape(runtimeID)+"/ready", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ShutdownRuntime sends DELETE /runtimes/{id}.
func (c *Client) ShutdownRuntime(runtimeID string) error {
	return c.do(http.MethodDelete, "/runtimes/"+url.PathEscape(runtimeID), nil, nil)
}

// Submit sends POST /runtimes/{id}/executions.
func (c *Client) Submit(runtimeID string, req api.SubmitRequest) (*api.SubmitResponse, error) {
	var result api.SubmitResponse
	if err := c.do(http.MethodPost, "/runtimes/"+url.PathEscape(runtimeID)+"/executions", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetExecution sends GET /executions/{id}.
func (c *Client) GetExecution(executionID string) (*api.ExecutionResponse, error) {
	var result api.ExecutionResponse
	if err := c.do(http.MethodGet, "/executions/"+url.PathEscape(executionID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Interrupt sends POST /executions/{id}/interrupt.
func (c *Client) Interrupt(executionID string) error {
	return c.do(http.MethodPost, "/executions/"+url.PathEscape(executionID)+"/interrupt", nil, nil)
}

// HistoryQuery selects executions for History. Zero fields are omitted.
type HistoryQuery struct {
	RuntimeID string
	CellID    string
	Statuses  []string
	After     string
	Limit     int
}

// History sends GET /executions with the query's filters.
func (c *Client) History(q HistoryQuery) (*api.HistoryResponse, error) {
	v := url.Values{}
	if q.RuntimeID != "" {
		v.Set("runtime_id", q.RuntimeID)
	}
	if q.CellID != "" {
		v.Set("cell_id", q.CellID)
	}
	for _, s := range q.Statuses {
		v.Add("status", s)
	}
	if q.After != "" {
		v.Set("after", q.After)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	path := "/executions"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var result api.HistoryResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Attach sends PUT /cells/{id}/latest.
func (c *Client) Attach(cellID, executionID string) (*api.CellResponse, error) {
	var result api.CellResponse
	if err := c.do(http.MethodPut, "/cells/"+url.PathEscape(cellID)+"/latest", api.AttachRequest{ExecutionID: executionID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Latest sends GET /cells/{id}.
func (c *Client) Latest(cellID string) (*api.CellResponse, error) {
	var result api.CellResponse
	if err := c.do(http.MethodGet, "/cells/"+url.PathEscape(cellID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
