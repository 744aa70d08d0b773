package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// Client hands a job to the remote masking worker. A nil error only means
// the worker accepted the request; the outcome arrives later as a callback.
type Client interface {
	Dispatch(ctx context.Context, req ProcessRequest) error
}

type ProcessRequest struct {
	DownloadURL    string         `json:"downloadUrl"`
	UploadURL      string         `json:"uploadUrl"`
	JobID          string         `json:"jobId"`
	CallbackURL    string         `json:"callbackUrl"`
	MaskingOptions MaskingOptions `json:"maskingOptions"`
}

// MaskingOptions is the worker's option shape. Blur and Swap are complements.
type MaskingOptions struct {
	Face             bool   `json:"face"`
	LicensePlate     bool   `json:"licensePlate"`
	CustomObject     bool   `json:"customObject"`
	CustomObjectName string `json:"customObjectName,omitempty"`
	Blur             bool   `json:"maskingOption_blur"`
	Swap             bool   `json:"maskingOption_swap"`
}

// HTTPClient talks to the worker over plain HTTP
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Make sure we conform to Client interface
var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) Dispatch(ctx context.Context, req ProcessRequest) error {
	url := fmt.Sprintf("%s/process", c.baseURL)

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call worker: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("worker returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	// Drain body to enable connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call worker: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker health check returned status %d", resp.StatusCode)
	}

	return nil
}
