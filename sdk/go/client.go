// Package linchubsdk is a minimal Linchub HTTP API client.
package linchubsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"linchub/internal/domain"
)

// Client talks to a running linchub server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health is the health endpoint response.
type Health struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// OrchestrateResponse wraps a routed hub result.
type OrchestrateResponse struct {
	Action      string          `json:"action"`
	Result      json.RawMessage `json:"result"`
	ProcessedAt string          `json:"processedAt"`
}

// GetHealth reports server health.
func (c *Client) GetHealth(ctx context.Context) (Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "health", nil, &out)
	return out, err
}

// AnalyzeClaim runs a rejected claim through the claims analyzer.
func (c *Client) AnalyzeClaim(ctx context.Context, claimID, rejectionReason string) (domain.ClaimAnalysis, error) {
	body := map[string]any{
		"claimId":         claimID,
		"rejectionReason": rejectionReason,
	}
	var out domain.ClaimAnalysis
	err := c.do(ctx, http.MethodPost, "claims/analyze", body, &out)
	return out, err
}

// SimulateAudit runs a provider compliance audit.
func (c *Client) SimulateAudit(ctx context.Context, providerID string, sampleSize, errorCount int) (domain.AuditResult, error) {
	body := map[string]any{
		"providerId": providerID,
		"sampleSize": sampleSize,
		"errorCount": errorCount,
	}
	var out domain.AuditResult
	err := c.do(ctx, http.MethodPost, "audit/simulate", body, &out)
	return out, err
}

// ListAudits fetches recent audit results for a provider.
func (c *Client) ListAudits(ctx context.Context, providerID string, limit int) ([]domain.AuditResult, error) {
	var out struct {
		Audits []domain.AuditResult `json:"audits"`
	}
	endpoint := fmt.Sprintf("audit/list?providerId=%s&limit=%d", url.QueryEscape(providerID), limit)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out.Audits, err
}

// GenerateLearningPath builds a certification learning path for a learner.
func (c *Client) GenerateLearningPath(ctx context.Context, learnerID string, experienceYears int, targetCertification string) (domain.LearningPath, error) {
	body := map[string]any{
		"learnerId":           learnerID,
		"experienceYears":     experienceYears,
		"targetCertification": targetCertification,
	}
	var out domain.LearningPath
	err := c.do(ctx, http.MethodPost, "learning/path", body, &out)
	return out, err
}

// Orchestrate routes an {action, payload} envelope through the hub.
func (c *Client) Orchestrate(ctx context.Context, action string, payload any) (OrchestrateResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OrchestrateResponse{}, err
	}
	body := map[string]any{
		"action":  action,
		"payload": json.RawMessage(data),
	}
	var out OrchestrateResponse
	err = c.do(ctx, http.MethodPost, "orchestrate", body, &out)
	return out, err
}

// WorkflowStatus fetches a durable run by id.
func (c *Client) WorkflowStatus(ctx context.Context, runID string) (domain.TaskRun, error) {
	var out domain.TaskRun
	err := c.do(ctx, http.MethodGet, "workflow/status/"+url.PathEscape(runID), nil, &out)
	return out, err
}

// ActorState fetches one actor instance.
func (c *Client) ActorState(ctx context.Context, kind, key string) (domain.ActorInstance, error) {
	var out domain.ActorInstance
	endpoint := fmt.Sprintf("actors/%s/%s", url.PathEscape(kind), url.PathEscape(key))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
