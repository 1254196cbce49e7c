// Package restoration issues the single generative-model call that restores a photo.
package restoration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/raushankrgupta/photo-restorer/codec"
	"github.com/raushankrgupta/photo-restorer/config"
	"google.golang.org/api/option"
)

// DefaultModel is the image-capable Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash-image"

const basePrompt = `You are an expert AI photo restoration artist.
Restore this old, faded, or black-and-white photo.
Enhance details, remove noise, scratches, and artifacts.
Apply natural, vibrant, and historically accurate colors.
Upscale the image to high resolution, making it sharp and clear.
The final output should be a photographically realistic image.
`

// Generator is the part of a Gemini model handle the client needs.
type Generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// ModelFactory opens a model handle for one call. The returned close func
// releases the underlying connection.
type ModelFactory func(ctx context.Context, apiKey, model string) (Generator, func() error, error)

// Result is the restored image returned by the model.
type Result struct {
	Data     []byte
	MIMEType string
}

// Client restores photos through Gemini.
type Client struct {
	model      string
	timeout    time.Duration
	credential func() string
	open       ModelFactory
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout bounds each call; zero means no extra bound beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCredential replaces the environment lookup of the API key.
func WithCredential(fn func() string) Option {
	return func(c *Client) { c.credential = fn }
}

// WithModelFactory replaces the Gemini SDK connection.
func WithModelFactory(f ModelFactory) Option {
	return func(c *Client) { c.open = f }
}

// NewClient creates a client that reads its credential from the environment at call time.
func NewClient(opts ...Option) *Client {
	c := &Client{
		model:      DefaultModel,
		credential: config.APIKey,
		open:       openGemini,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func openGemini(ctx context.Context, apiKey, model string) (Generator, func() error, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client.GenerativeModel(model), client.Close, nil
}

// BuildPrompt composes the fixed restoration prompt with the optional user instruction.
func BuildPrompt(instruction string) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return basePrompt
	}
	return fmt.Sprintf("%s\nUser instructions: \"%s\"", basePrompt, instruction)
}

// Restore sends the image and instruction to the model and returns the first
// image part of the response. Configuration and validation failures are
// reported before any network activity. There is no retry.
func (c *Client) Restore(ctx context.Context, image []byte, mimeType, instruction string) (*Result, error) {
	apiKey := strings.TrimSpace(c.credential())
	if apiKey == "" {
		return nil, newError(KindConfig, "restore", ErrMissingCredential)
	}
	if !codec.IsImage(mimeType) {
		return nil, newError(KindValidation, "restore", fmt.Errorf("%w (got %q)", ErrNotImage, mimeType))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	model, closeModel, err := c.open(ctx, apiKey, c.model)
	if err != nil {
		return nil, newError(KindTransport, "open", err)
	}
	defer func() { _ = closeModel() }()

	// The SDK base64-encodes blob data on the wire, so the raw bytes go in
	// rather than codec.Encode output.
	// generative-ai-go v0.20.1 has no ResponseModalities field in
	// GenerationConfig, so the request cannot ask for an image part. Image
	// models reply with one unprompted; a text-only reply ends as ErrNoImage.
	resp, err := model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: image},
		genai.Text(BuildPrompt(instruction)),
	)
	if err != nil {
		return nil, newError(KindTransport, "generate", fmt.Errorf("failed to generate content: %w", err))
	}

	result := firstImage(resp)
	if result == nil {
		return nil, newError(KindNoImage, "extract", ErrNoImage)
	}
	if result.MIMEType == "" {
		result.MIMEType = mimeType
	}
	return result, nil
}

func firstImage(resp *genai.GenerateContentResponse) *Result {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
				return &Result{Data: blob.Data, MIMEType: blob.MIMEType}
			}
		}
	}
	return nil
}
