// Package fhirclient is a small FHIR REST client covering the create, search,
// read, patch and delete interactions used by the patient desk.
package fhirclient

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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/patientdesk/internal/platform/fhir"
)

const (
	mimeFHIRJSON      = "application/fhir+json"
	mimeJSONPatch     = "application/json-patch+json"
	maxResponseBytes  = 10 << 20
	defaultTimeout    = 30 * time.Second
	instrumentationID = "github.com/ehr/patientdesk/internal/platform/fhirclient"
)

// Interaction kinds, mirroring the FHIR RESTful interaction names.
const (
	InteractionCreate = "create"
	InteractionSearch = "search-type"
	InteractionRead   = "read"
	InteractionPatch  = "patch"
	InteractionDelete = "delete"
)

// Config configures a Client.
type Config struct {
	BaseURL    string        // e.g. "https://r3.smarthealthit.org"
	Timeout    time.Duration // per-request timeout; 30s when zero
	HTTPClient *http.Client  // optional; overrides Timeout
	Logger     zerolog.Logger
	Observers  []Observer
}

// Client talks to a single FHIR server.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	logger    zerolog.Logger
	tracer    trace.Tracer
	observers []Observer
}

// New creates a Client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fhirclient: BaseURL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("fhirclient: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("fhirclient: base url must be http or https, got %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:   base,
		http:      httpClient,
		logger:    cfg.Logger.With().Str("component", "fhirclient").Logger(),
		tracer:    otel.Tracer(instrumentationID),
		observers: cfg.Observers,
	}, nil
}

// BaseURL returns the server base the client was configured with.
func (c *Client) BaseURL() string {
	return strings.TrimSuffix(c.baseURL.String(), "/")
}

// AddObserver registers an additional interaction observer. It must be called
// before the client is shared between goroutines.
func (c *Client) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// Create POSTs resource to its type endpoint and decodes the created resource
// into out (which may be nil).
func (c *Client) Create(ctx context.Context, resource interface{}, out interface{}) error {
	body, err := json.Marshal(resource)
	if err != nil {
		return fmt.Errorf("fhirclient: encode resource: %w", err)
	}
	var head fhir.Resource
	if err := json.Unmarshal(body, &head); err != nil || head.ResourceType == "" {
		return fmt.Errorf("fhirclient: resource has no resourceType")
	}

	return c.do(ctx, request{
		interaction: InteractionCreate,
		method:      http.MethodPost,
		path:        head.ResourceType,
		body:        body,
		contentType: mimeFHIRJSON,
	}, out)
}

// Request GETs a query relative to the base URL (for example
// "Patient?name=smith") or an absolute URL returned by the server in a
// Bundle link, and decodes the response into out.
func (c *Client) Request(ctx context.Context, query string, out interface{}) error {
	if query == "" {
		return fmt.Errorf("fhirclient: empty query")
	}
	interaction := InteractionSearch
	if !strings.Contains(query, "?") {
		interaction = InteractionRead
	}
	return c.do(ctx, request{
		interaction: interaction,
		method:      http.MethodGet,
		path:        query,
	}, out)
}

// Read fetches resourceType/id into out.
func (c *Client) Read(ctx context.Context, resourceType, id string, out interface{}) error {
	if id == "" {
		return fmt.Errorf("fhirclient: empty %s id", resourceType)
	}
	return c.do(ctx, request{
		interaction: InteractionRead,
		method:      http.MethodGet,
		path:        fhir.FormatReference(resourceType, url.PathEscape(id)),
	}, out)
}

// Patch applies a JSON Patch to the resource at path (for example
// "Patient/123") and decodes the updated resource into out.
func (c *Client) Patch(ctx context.Context, path string, ops []fhir.PatchOperation, out interface{}) error {
	if err := fhir.ValidatePatch(ops); err != nil {
		return fmt.Errorf("fhirclient: %w", err)
	}
	body, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("fhirclient: encode patch: %w", err)
	}
	return c.do(ctx, request{
		interaction: InteractionPatch,
		method:      http.MethodPatch,
		path:        path,
		body:        body,
		contentType: mimeJSONPatch,
	}, out)
}

// Delete removes the resource at path (for example "Patient/123").
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, request{
		interaction: InteractionDelete,
		method:      http.MethodDelete,
		path:        path,
	}, nil)
}

type request struct {
	interaction string
	method      string
	path        string
	body        []byte
	contentType string
}

func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("fhirclient: parse path %q: %w", path, err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

func (c *Client) do(ctx context.Context, r request, out interface{}) (err error) {
	target, err := c.resolve(r.path)
	if err != nil {
		return err
	}

	requestID := uuid.NewString()
	resourceType, resourceID := splitPath(target.Path, c.baseURL.Path)

	ctx, span := c.tracer.Start(ctx, "fhir."+r.interaction,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("fhir.interaction", r.interaction),
			attribute.String("fhir.resource_type", resourceType),
			attribute.String("http.request.method", r.method),
			attribute.String("request_id", requestID),
		),
	)
	defer span.End()

	start := time.Now()
	status := 0
	defer func() {
		elapsed := time.Since(start)
		entry := Interaction{
			RequestID:    requestID,
			Kind:         r.interaction,
			Method:       r.method,
			Path:         r.path,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			StatusCode:   status,
			Duration:     elapsed,
			Timestamp:    start,
		}
		evt := c.logger.Debug()
		if err != nil {
			entry.Error = err.Error()
			evt = c.logger.Warn().Err(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		evt.
			Str("request_id", requestID).
			Str("interaction", r.interaction).
			Str("method", r.method).
			Str("path", r.path).
			Int("status", status).
			Dur("latency", elapsed).
			Msg("fhir request")
		c.notify(ctx, entry)
	}()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target.String(), body)
	if err != nil {
		return fmt.Errorf("fhirclient: build request: %w", err)
	}
	req.Header.Set("Accept", mimeFHIRJSON)
	req.Header.Set("X-Request-ID", requestID)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.method == http.MethodPost || r.method == http.MethodPatch {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fhirclient: %s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("fhirclient: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(r.method, r.path, resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		// Servers may ignore Prefer and answer 201 with only a Location.
		if loc := resp.Header.Get("Location"); loc != "" && r.method != http.MethodGet {
			return c.do(ctx, request{interaction: InteractionRead, method: http.MethodGet, path: stripHistory(loc)}, out)
		}
		return fmt.Errorf("fhirclient: %s %s: empty response body", r.method, r.path)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("fhirclient: decode response: %w", err)
	}
	return nil
}

func (c *Client) notify(ctx context.Context, entry Interaction) {
	for _, o := range c.observers {
		o.ObserveInteraction(ctx, entry)
	}
}

// splitPath extracts the resource type and id from a request path relative
// to the base path.
func splitPath(p, basePath string) (resourceType, id string) {
	rel := strings.Trim(strings.TrimPrefix(p, basePath), "/")
	parts := strings.Split(rel, "/")
	if len(parts) > 0 {
		resourceType = parts[0]
	}
	if len(parts) > 1 && !strings.HasPrefix(parts[1], "_") {
		id = parts[1]
	}
	return resourceType, id
}

// stripHistory turns "Patient/1/_history/1" into "Patient/1".
func stripHistory(loc string) string {
	if i := strings.Index(loc, "/_history"); i >= 0 {
		return loc[:i]
	}
	return loc
}
