package classification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// classifyPromptTemplate asks a vision model for a strict JSON confidence
// map over the configured cloud classes. %s is the comma-separated class
// list.
const classifyPromptTemplate = `You are a cloud type classifier for ground-based sky images.

Estimate, for EACH of the following cloud classes, the probability in [0,1]
that it is the dominant cloud type visible in this image:
%s

Return JSON only, mapping every class name exactly as written above to a
number, for example: {"Cumulus": 0.7, "Cirrus": 0.2}

HARD RULES
- Include every listed class, even with probability 0.0.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// OllamaModel classifies images by prompting an Ollama vision model for a
// JSON confidence map. It satisfies Model so the rest of the pipeline does
// not care whether inference runs on a dedicated server or an LLM backend.
type OllamaModel struct {
	client  *api.Client
	model   string
	classes []string
	prompt  string
}

// NewOllamaModel creates an Ollama-backed classifier. ollamaURL points at
// the Ollama server; model is the vision model name.
func NewOllamaModel(ollamaURL, model string, classes []string) (*OllamaModel, error) {
	parsed, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("classification: no class names configured")
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &OllamaModel{
		client:  api.NewClient(base, http.DefaultClient),
		model:   model,
		classes: classes,
		prompt:  fmt.Sprintf(classifyPromptTemplate, strings.Join(classes, ", ")),
	}, nil
}

// Classes implements Model.
func (o *OllamaModel) Classes() []string {
	return o.classes
}

// Predict implements Model. Classes the model omits from its answer get
// probability zero; they are then dropped by the confidence filter rather
// than reported with a made-up value.
func (o *OllamaModel) Predict(ctx context.Context, img image.Image) ([]float64, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: o.prompt,
				Images:  []api.ImageData{api.ImageData(buf.Bytes())},
			},
		},
		Stream: &streamFalse,
	}

	var responseContent string
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}
	if responseContent == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}

	scores, err := parseConfidenceMap(responseContent)
	if err != nil {
		return nil, err
	}

	probs := make([]float64, len(o.classes))
	for i, class := range o.classes {
		probs[i] = clamp01(scores[class])
	}
	return probs, nil
}

func parseConfidenceMap(raw string) (map[string]float64, error) {
	raw = sanitizeModelJSON(raw)
	var scores map[string]float64
	if err := json.Unmarshal([]byte(raw), &scores); err != nil {
		return nil, fmt.Errorf("model returned unparseable confidence map: %w", err)
	}
	return scores, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sanitizeModelJSON strips code fences, comments and trailing commas from
// a model response and keeps only the outermost JSON object.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	reBlock := regexp.MustCompile(`(?s)/\*.*?\*/`)
	raw = reBlock.ReplaceAllString(raw, "")
	reLine := regexp.MustCompile(`(?m)^\s*//.*$`)
	raw = reLine.ReplaceAllString(raw, "")
	reTrailing := regexp.MustCompile(`,(\s*[}\]])`)
	raw = reTrailing.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
