package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/docpipe/internal/config"
	"github.com/raphaelgruber/docpipe/internal/metrics"
)

const maxImageBytes = 10 << 20

const captionSystemPrompt = `You describe images for a document search index.
Write one or two sentences covering what the image shows, including any
visible text. Do not speculate beyond what is visible.`

// Captioner generates image descriptions with a vision-capable model.
type Captioner struct {
	llm       llms.Model
	modelName string
	client    *http.Client
	metrics   *metrics.Collector
}

// SetMetrics attaches a collector so caption timings are recorded.
func (c *Captioner) SetMetrics(collector *metrics.Collector) {
	c.metrics = collector
}

// NewCaptioner creates a captioner from the configured caption model.
func NewCaptioner(cfg config.Config) (*Captioner, error) {
	var model llms.Model
	var err error

	switch cfg.EmbedProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.CaptionModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama caption model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.CaptionModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai caption model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported caption provider: %s", cfg.EmbedProvider)
	}

	return &Captioner{
		llm:       model,
		modelName: cfg.CaptionModel,
		client:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Caption fetches an image and asks the vision model to describe it.
// Only remote (http/https) image references can be fetched; relative
// paths inside a document cannot be resolved and return an error.
func (c *Captioner) Caption(ctx context.Context, imageURL, altText string) (string, error) {
	if !strings.HasPrefix(imageURL, "http://") && !strings.HasPrefix(imageURL, "https://") {
		return "", fmt.Errorf("image %q is not fetchable", imageURL)
	}

	data, mimeType, err := c.fetchImage(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}

	prompt := "Describe this image."
	if altText != "" {
		prompt = fmt.Sprintf("Describe this image. The author's alt text is %q.", altText)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, captionSystemPrompt),
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, data),
				llms.TextPart(prompt),
			},
		},
	}

	start := time.Now()
	response, err := c.llm.GenerateContent(ctx, messages)
	if c.metrics != nil {
		c.metrics.RecordTiming(metrics.OpCaption, time.Since(start))
	}
	if err != nil {
		return "", fmt.Errorf("caption: %w", wrapFatalError(err))
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return strings.TrimSpace(response.Choices[0].Content), nil
}

// Model returns the caption model name.
func (c *Captioner) Model() string {
	return c.modelName
}

func (c *Captioner) fetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", err
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("content type %q is not an image", mimeType)
	}

	return data, mimeType, nil
}
