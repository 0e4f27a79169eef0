package classification

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a classification inference server over HTTP. The server
// accepts a base64 PNG and answers with one probability per class in the
// model's native class order.
type Client struct {
	baseURL    string
	weights    string
	classes    []string
	httpClient *http.Client
}

type classifyRequest struct {
	Model string `json:"model"`
	Image string `json:"image"`
}

type classifyResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

// NewClient creates a classification client for the given server URL,
// weights identifier and class name list.
func NewClient(serverURL, weights string, classes []string) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8091"
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("classification: no class names configured")
	}
	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		weights: weights,
		classes: classes,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}, nil
}

// Classes implements Model.
func (c *Client) Classes() []string {
	return c.classes
}

// Predict implements Model by posting the image to the inference server.
func (c *Client) Predict(ctx context.Context, img image.Image) ([]float64, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	payload := classifyRequest{
		Model: c.weights,
		Image: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/classify", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed classifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Probabilities) != len(c.classes) {
		return nil, fmt.Errorf("server returned %d probabilities for %d classes",
			len(parsed.Probabilities), len(c.classes))
	}
	return parsed.Probabilities, nil
}
