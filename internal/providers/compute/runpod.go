package compute

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

	"github.com/rs/zerolog"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra"
)

// ErrMissingCredentials indicates the client was configured without an API
// key or endpoint id.
var ErrMissingCredentials = errors.New("runpod: api key and endpoint id are required")

// Options configures the RunPod serverless client.
type Options struct {
	APIKey         string
	EndpointID     string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// RunPod performs HTTP calls against a RunPod serverless endpoint.
type RunPod struct {
	apiKey     string
	endpointID string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type submitRequest struct {
	Input submitInput `json:"input"`
}

type submitInput struct {
	JobID        string            `json:"job_id"`
	Mode         string            `json:"mode"`
	Quality      string            `json:"quality"`
	Enable4K     bool              `json:"enable_4k"`
	AspectRatio  string            `json:"aspect_ratio"`
	Assets       map[string]string `json:"assets"`
	OutputTarget *outputTargetBody `json:"output_target,omitempty"`
	Callback     *callbackBody     `json:"callback,omitempty"`
}

type outputTargetBody struct {
	UploadURL string `json:"upload_url"`
	OutputURL string `json:"output_url,omitempty"`
	OutputRef string `json:"output_ref,omitempty"`
}

type callbackBody struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type statusResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// workerOutput is the payload shape the worker reports on completion. Workers
// are free to return other shapes; unknown ones decode to zero values.
type workerOutput struct {
	Status       string `json:"status"`
	OutputRef    string `json:"output_ref"`
	OutputURL    string `json:"output_url"`
	OutputBase64 string `json:"output_base64"`
	Error        string `json:"error"`
}

// NewRunPod constructs a client with sane defaults and injected dependencies.
func NewRunPod(opts Options) *RunPod {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.runpod.ai/v2"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &RunPod{
		apiKey:     strings.TrimSpace(opts.APIKey),
		endpointID: strings.TrimSpace(opts.EndpointID),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Name identifies the provider in logs.
func (c *RunPod) Name() string {
	return "runpod"
}

// HasCredentials reports whether the client can perform remote calls.
func (c *RunPod) HasCredentials() bool {
	return c.apiKey != "" && c.endpointID != ""
}

// Submit enqueues one job on the serverless endpoint and returns the handle
// assigned by the backend.
func (c *RunPod) Submit(ctx context.Context, d Descriptor) (SubmitResult, error) {
	if !c.HasCredentials() {
		return SubmitResult{}, ErrMissingCredentials
	}

	assets := make(map[string]string, len(d.AssetURLs))
	for role, url := range d.AssetURLs {
		assets[string(role)+"_url"] = url
	}
	payload := submitRequest{Input: submitInput{
		JobID:       d.JobID,
		Mode:        string(d.Mode),
		Quality:     string(d.Quality),
		Enable4K:    d.Enable4K,
		AspectRatio: d.AspectRatio,
		Assets:      assets,
	}}
	if d.Output != nil {
		payload.Input.OutputTarget = &outputTargetBody{
			UploadURL: d.Output.UploadURL,
			OutputURL: d.Output.OutputURL,
			OutputRef: d.Output.OutputRef,
		}
	}
	if d.Callback != nil {
		payload.Input.Callback = &callbackBody{URL: d.Callback.URL, Secret: d.Callback.Secret}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("runpod: encode request: %w", err)
	}
	endpoint := c.baseURL + "/" + c.endpointID + "/run"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("runpod: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("runpod: submit: %w: %v", domain.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("runpod: read response: %w: %v", domain.ErrUnreachable, err)
	}
	if resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(raw))
		// Auth failures and server errors mean the backend could not take the
		// job; other 4xx means it looked at the job and said no.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return SubmitResult{}, fmt.Errorf("runpod: submit status %d: %s: %w", resp.StatusCode, detail, domain.ErrUnreachable)
		}
		return SubmitResult{}, fmt.Errorf("runpod: submit status %d: %s: %w", resp.StatusCode, detail, domain.ErrRejected)
	}

	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return SubmitResult{}, fmt.Errorf("runpod: decode response: %w: %v", domain.ErrUnreachable, err)
	}
	if decoded.ID == "" {
		return SubmitResult{}, fmt.Errorf("runpod: response missing submission id: %w", domain.ErrUnreachable)
	}

	c.logger.Debug().
		Str("job_id", d.JobID).
		Str("handle", decoded.ID).
		Str("remote_status", decoded.Status).
		Msg("runpod: job submitted")
	return SubmitResult{Handle: decoded.ID, RequestID: d.JobID}, nil
}

// CheckStatus polls one submission. A 404 from the backend means the handle
// is gone and reports as a failed state, not an error.
func (c *RunPod) CheckStatus(ctx context.Context, handle string) (RemoteStatus, error) {
	if !c.HasCredentials() {
		return RemoteStatus{}, ErrMissingCredentials
	}
	endpoint := c.baseURL + "/" + c.endpointID + "/status/" + handle
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return RemoteStatus{}, fmt.Errorf("runpod: build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return RemoteStatus{}, fmt.Errorf("runpod: status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return RemoteStatus{State: StateFailed, Detail: "NOT_FOUND", Error: "submission not found on backend"}, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return RemoteStatus{}, fmt.Errorf("runpod: read status response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return RemoteStatus{}, fmt.Errorf("runpod: status check %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return RemoteStatus{}, fmt.Errorf("runpod: decode status response: %w", err)
	}
	return normalizeStatus(decoded), nil
}

func normalizeStatus(resp statusResponse) RemoteStatus {
	var output workerOutput
	if len(resp.Output) > 0 {
		// Best effort; a worker returning a non-object output is tolerated.
		_ = json.Unmarshal(resp.Output, &output)
	}
	status := RemoteStatus{Detail: resp.Status}

	switch resp.Status {
	case "IN_QUEUE", "IN_PROGRESS":
		status.State = StatePending
	case "FAILED", "CANCELLED", "TIMED_OUT", "NOT_FOUND":
		status.State = StateFailed
		status.Error = firstNonEmpty(resp.Error, output.Error, resp.Status)
	case "COMPLETED":
		if output.Status == "failed" || output.Status == "error" {
			status.State = StateFailed
			status.Error = firstNonEmpty(output.Error, resp.Error, "worker reported failure")
			break
		}
		status.State = StateCompleted
		status.OutputRef = output.OutputRef
		status.OutputURL = output.OutputURL
		status.OutputBase64 = output.OutputBase64
	default:
		// Unknown status words stay pending rather than failing the job.
		status.State = StatePending
	}
	return status
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
