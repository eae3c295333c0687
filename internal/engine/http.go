package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/indextts-service/internal/core"
	"github.com/book-expert/logger"
)

// API endpoints of the inference service.
const (
	apiHealth = "/health"
	apiLoad   = "/v1/load"
	apiInfer  = "/v1/infer"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

const (
	errFmtServiceErrorWithCode = "inference service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "inference service returned non-OK status: %s, body: %s"
)

// ErrServiceUnhealthy is returned when the health endpoint does not answer 200.
var ErrServiceUnhealthy = errors.New("inference service is unhealthy")

// ServiceErrorResponse is the structured error body of the inference service.
type ServiceErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPClient talks to an inference service that hosts the model in its own
// process.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPClient creates a client for baseURL, e.g. "http://localhost:8000".
// The timeout applies to every request, so it must cover model construction.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HealthCheck verifies that the service is reachable.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %s", ErrServiceUnhealthy, resp.Status)
	}

	return nil
}

// LoadModel asks the service to construct the model.
func (c *HTTPClient) LoadModel(ctx context.Context, cfg core.LoadConfig) error {
	return c.post(ctx, apiLoad, cfg)
}

// Infer asks the service to synthesize into params.OutputPath.
func (c *HTTPClient) Infer(ctx context.Context, params core.InferParams) error {
	return c.post(ctx, apiInfer, params)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to inference service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

// parseErrorResponse decodes a structured error and falls back to the raw
// body.
func parseErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, readErr.Error())
	}

	var errorResp ServiceErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, strings.TrimSpace(string(body)))
}

// HTTPEngine loads the model in a remote inference service.
type HTTPEngine struct {
	client *HTTPClient
	log    *logger.Logger
}

// NewHTTPEngine creates an HTTPEngine.
func NewHTTPEngine(client *HTTPClient, log *logger.Logger) *HTTPEngine {
	return &HTTPEngine{client: client, log: log}
}

// Load checks the service health and asks it to construct the model.
func (e *HTTPEngine) Load(ctx context.Context, cfg core.LoadConfig) (core.Model, error) {
	err := e.client.HealthCheck(ctx)
	if err != nil {
		return nil, err
	}

	err = e.client.LoadModel(ctx, cfg)
	if err != nil {
		return nil, err
	}

	e.log.Info("Inference service at %s reports model loaded", e.client.baseURL)

	return e.client, nil
}
