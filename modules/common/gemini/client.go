package gemini

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/genai"

	"outfit-stylist-server/modules/common/config"
)

// Client wraps the Gemini API image model. Both outfit generation and outfit
// edits use the same call shape: one inline image plus one instruction.
type Client struct {
	genaiClient *genai.Client
	model       string
}

// NewClient - Gemini API 클라이언트 생성 (API key 방식)
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	return newClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}, cfg.GeminiModel)
}

func newClient(ctx context.Context, cc *genai.ClientConfig, model string) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Genai client: %w", err)
	}

	log.Printf("✅ [Gemini] Client initialized (model: %s)", model)
	return &Client{
		genaiClient: genaiClient,
		model:       model,
	}, nil
}

// GenerateFromImage sends the image and instruction and returns the raw bytes
// of the generated image.
func (c *Client) GenerateFromImage(ctx context.Context, imageData []byte, mimeType, instruction string) ([]byte, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(imageData, mimeType),
		genai.NewPartFromText(instruction),
	}

	result, err := c.genaiClient.Models.GenerateContent(
		ctx,
		c.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{string(genai.ModalityImage)},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	return FirstInlineImage(result)
}

// FirstInlineImage returns the inline bytes of the first part of the first
// candidate. Any other shape counts as "no image".
func FirstInlineImage(result *genai.GenerateContentResponse) ([]byte, error) {
	if result == nil || len(result.Candidates) == 0 {
		return nil, ErrNoImageData
	}
	candidate := result.Candidates[0]
	if candidate == nil || candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, ErrNoImageData
	}
	part := candidate.Content.Parts[0]
	if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
		return nil, ErrNoImageData
	}
	return part.InlineData.Data, nil
}
