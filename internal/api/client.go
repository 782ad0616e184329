// Package api is the client for the admin REST API that stores rules and
// serves device metadata.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"device-rules/internal/logger"
	"device-rules/internal/metrics"
	"device-rules/internal/rule"
	"device-rules/internal/schema"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 4 << 20

// Client talks to the admin API on behalf of the controllers.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// Ensure Client serves the field resolver.
var (
	_ schema.LiveFieldSource = (*Client)(nil)
	_ schema.SchemaSource    = (*Client)(nil)
)

// NewClient creates a client for baseURL. A non-empty token is sent as a
// bearer token on every request.
func NewClient(baseURL, token string, timeout time.Duration, log *logger.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		log = logger.NewNop()
	}

	var transport http.RoundTripper = http.DefaultTransport
	if token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   http.DefaultTransport,
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout, Transport: transport},
		logger:  log,
		metrics: m,
	}
}

func devicePath(deviceID string, parts ...string) string {
	p := "/admin/devices/" + url.PathEscape(deviceID) + "/rules"
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// ListRules returns every rule configured for deviceID.
func (c *Client) ListRules(ctx context.Context, deviceID string) ([]rule.Rule, error) {
	var rules []rule.Rule
	if err := c.do(ctx, "list_rules", http.MethodGet, devicePath(deviceID), nil, &rules); err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []rule.Rule{}
	}
	return rules, nil
}

// CreateRule posts r without its server-assigned fields and returns the
// stored rule when the API echoes it back.
func (c *Client) CreateRule(ctx context.Context, deviceID string, r rule.Rule) (*rule.Rule, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "create_rule", http.MethodPost, devicePath(deviceID), r.CreateBody(), &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var created rule.Rule
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("failed to decode created rule: %w", err)
	}
	return &created, nil
}

// UpdateRule sends a partial update, such as {"is_active": false}.
func (c *Client) UpdateRule(ctx context.Context, deviceID string, ruleID rule.ID, patch map[string]interface{}) error {
	return c.do(ctx, "update_rule", http.MethodPut, devicePath(deviceID, ruleID.String()), patch, nil)
}

func (c *Client) DeleteRule(ctx context.Context, deviceID string, ruleID rule.ID) error {
	return c.do(ctx, "delete_rule", http.MethodDelete, devicePath(deviceID, ruleID.String()), nil, nil)
}

// LiveFields returns the live telemetry field inventory of deviceID. The
// endpoint answers either a bare list or {"fields": [...]}.
func (c *Client) LiveFields(ctx context.Context, deviceID string) ([]schema.LiveField, error) {
	var raw json.RawMessage
	path := "/dashboard/devices/" + url.PathEscape(deviceID) + "/fields"
	if err := c.do(ctx, "live_fields", http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var fields []schema.LiveField
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode live fields: %w", err)
		}
		return fields, nil
	}

	var wrapped struct {
		Fields []schema.LiveField `json:"fields"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode live fields: %w", err)
	}
	return wrapped.Fields, nil
}

// DeviceTypeSchema returns the schema_definition of a device type. A device
// type without one yields a nil node.
func (c *Client) DeviceTypeSchema(ctx context.Context, deviceTypeID string) (*schema.Node, error) {
	var deviceType struct {
		SchemaDefinition *schema.Node `json:"schema_definition"`
	}
	path := "/admin/device-types/" + url.PathEscape(deviceTypeID)
	if err := c.do(ctx, "device_type", http.MethodGet, path, nil, &deviceType); err != nil {
		return nil, err
	}
	return deviceType.SchemaDefinition, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(operation, "error", start)
		c.logger.Warn("admin api request failed",
			"operation", operation,
			"requestId", requestID,
			"error", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.observe(operation, strconv.Itoa(resp.StatusCode), start)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("admin api request",
		"operation", operation,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"requestId", requestID,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) observe(operation, status string, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveAPIRequest(operation, status, time.Since(start).Seconds())
	}
}
