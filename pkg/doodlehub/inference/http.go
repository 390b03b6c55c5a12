package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"
)

// maxResponseSize caps how much of a backend response is read.
const maxResponseSize = 1 << 20

// HTTPGatewayConfig configures an HTTPGateway.
type HTTPGatewayConfig struct {
	url        string
	client     *http.Client
	logger     *zap.Logger
	responseJq string
	headers    map[string]string
}

// NewHTTPGateway creates a builder for a gateway that POSTs drawings to a
// model server.
//
// Example:
//
//	gw, err := inference.NewHTTPGateway().
//	    WithURL("http://127.0.0.1:9000/predict").
//	    WithResponseJq(`{predictions: [.labels[] | {class: .name, confidence: .score}]}`).
//	    WithLogger(logger).
//	    Build()
func NewHTTPGateway() *HTTPGatewayConfig {
	return &HTTPGatewayConfig{
		client: http.DefaultClient,
		logger: zap.NewNop(),
	}
}

// WithURL sets the model server endpoint.
func (c *HTTPGatewayConfig) WithURL(url string) *HTTPGatewayConfig {
	c.url = url
	return c
}

// WithLogger sets the logger.
func (c *HTTPGatewayConfig) WithLogger(logger *zap.Logger) *HTTPGatewayConfig {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithResponseJq sets a jq program that reshapes the backend response into
// {predictions: [{class, confidence}], trainingExamples: {class: [url]}}.
// The program receives the decoded response body as input.
func (c *HTTPGatewayConfig) WithResponseJq(query string) *HTTPGatewayConfig {
	c.responseJq = query
	return c
}

// WithHeader adds a request header sent on every call.
func (c *HTTPGatewayConfig) WithHeader(key, value string) *HTTPGatewayConfig {
	if c.headers == nil {
		c.headers = make(map[string]string)
	}
	c.headers[key] = value
	return c
}

// IsValid checks that all required configuration is present.
func (c *HTTPGatewayConfig) IsValid() error {
	if c.url == "" {
		return errors.New("inference URL is required")
	}
	return nil
}

// Build compiles the response program and returns the gateway.
func (c *HTTPGatewayConfig) Build() (*HTTPGateway, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	g := &HTTPGateway{
		url:     c.url,
		client:  c.client,
		logger:  c.logger,
		headers: c.headers,
	}

	if c.responseJq != "" {
		query, err := gojq.Parse(c.responseJq)
		if err != nil {
			return nil, fmt.Errorf("failed to parse response jq '%s': %w", c.responseJq, err)
		}

		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile response jq '%s': %w", c.responseJq, err)
		}
		g.responseJq = code
	}

	return g, nil
}

// HTTPGateway classifies drawings by calling a model server over HTTP.
type HTTPGateway struct {
	url        string
	client     *http.Client
	logger     *zap.Logger
	headers    map[string]string
	responseJq *gojq.Code
}

type predictRequest struct {
	DisplayImage string    `json:"displayImage"`
	ModelData    []float64 `json:"modelData"`
}

func (g *HTTPGateway) Predict(ctx context.Context, displayImage string, modelData []float64) (*Result, error) {
	body, err := json.Marshal(predictRequest{DisplayImage: displayImage, ModelData: modelData})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range g.headers {
		req.Header.Set(key, value)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read inference response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn("Inference backend returned an error status",
			zap.String("url", g.url),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(data, 256)),
		)
		return nil, fmt.Errorf("inference backend returned status %d", resp.StatusCode)
	}

	if g.responseJq == nil {
		var result Result
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("failed to decode inference response: %w", err)
		}
		return &result, nil
	}

	return g.reshape(ctx, data)
}

func (g *HTTPGateway) reshape(ctx context.Context, data []byte) (*Result, error) {
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}

	iter := g.responseJq.RunWithContext(ctx, input)
	output, ok := iter.Next()
	if !ok {
		return nil, errors.New("response jq produced no result")
	}
	if err, isErr := output.(error); isErr {
		return nil, fmt.Errorf("response jq failed: %w", err)
	}

	// Round-trip through JSON to land in the typed result.
	reshaped, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response jq output: %w", err)
	}

	var result Result
	if err := json.Unmarshal(reshaped, &result); err != nil {
		return nil, fmt.Errorf("response jq output has the wrong shape: %w", err)
	}

	return &result, nil
}

func truncate(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	return data[:n]
}
