package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HTTPHandler executes HTTP work references against an arbitrary
// endpoint, taking method, url, body and headers from the opaque
// args tuple the scheduler passes through.
type HTTPHandler struct {
	client *http.Client
	tracer trace.Tracer
}

// NewHTTPHandler builds a handler with pooled-transport defaults.
func NewHTTPHandler(client *http.Client) *HTTPHandler {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPHandler{client: client, tracer: otel.Tracer("taskcore-http")}
}

// Invoke expects args[0]=method, args[1]=url, optional args[2]=body
// (marshaled to JSON), optional args[3]=map[string]string headers.
func (h *HTTPHandler) Invoke(ctx context.Context, args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("http handler: expected at least method, url in args")
	}
	method, _ := args[0].(string)
	url, _ := args[1].(string)
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := h.tracer.Start(ctx, "http.invoke",
		trace.WithAttributes(attribute.String("url", url), attribute.String("method", method)))
	defer span.End()

	var body io.Reader
	if len(args) > 2 && args[2] != nil {
		payload, err := json.Marshal(args[2])
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = strings.NewReader(string(payload))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(args) > 3 {
		if headers, ok := args[3].(map[string]string); ok {
			for k, v := range headers {
				req.Header.Set(k, v)
			}
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http error %d: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			result = map[string]any{"body": string(respBody), "status_code": resp.StatusCode}
		}
	} else {
		result = map[string]any{"status_code": resp.StatusCode}
	}
	return result, nil
}

// Supports reports whether this handler implements an optional
// capability; HTTPHandler supports header propagation only.
func (h *HTTPHandler) Supports(feature string) bool {
	return feature == "trace_propagation"
}
