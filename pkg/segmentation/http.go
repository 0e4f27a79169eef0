package segmentation

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

	"github.com/skycam/skycover/pkg/mask"
)

// Client talks to a segmentation inference server over HTTP. The server
// accepts a base64 PNG and answers with a row-major probability map at the
// model's input resolution.
type Client struct {
	baseURL    string
	weights    string
	inputW     int
	inputH     int
	httpClient *http.Client
}

type segmentRequest struct {
	Model  string `json:"model"`
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type segmentResponse struct {
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Probabilities []float32 `json:"probabilities"`
}

// NewClient creates a segmentation client for the given server URL and
// weights identifier. inputW and inputH are the model's fixed input size.
func NewClient(serverURL, weights string, inputW, inputH int) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8090"
	}
	if inputW <= 0 || inputH <= 0 {
		return nil, fmt.Errorf("segmentation: invalid input size %dx%d", inputW, inputH)
	}
	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		weights: weights,
		inputW:  inputW,
		inputH:  inputH,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}, nil
}

// InputSize implements Model.
func (c *Client) InputSize() (int, int) {
	return c.inputW, c.inputH
}

// Predict implements Model by posting the frame to the inference server.
func (c *Client) Predict(ctx context.Context, img image.Image) (*mask.Float, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	req := segmentRequest{
		Model:  c.weights,
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:  c.inputW,
		Height: c.inputH,
	}

	respBody, err := c.sendRequest(ctx, "/v1/segment", req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var resp segmentResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Probabilities) != resp.Width*resp.Height {
		return nil, fmt.Errorf("server returned %d probabilities for %dx%d map",
			len(resp.Probabilities), resp.Width, resp.Height)
	}

	return &mask.Float{W: resp.Width, H: resp.Height, Pix: resp.Probabilities}, nil
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
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
	return body, nil
}
