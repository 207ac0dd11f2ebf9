package vertexai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"outfit-stylist-server/modules/common/config"
	"outfit-stylist-server/modules/common/gemini"
)

// Client serves the same image calls as gemini.Client through Vertex AI,
// authenticated with service-account credentials instead of an API key.
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewClient - Vertex AI 클라이언트 생성 (credentials: JSON env > 파일 경로 > ADC)
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	opts, err := credentialOptions(cfg)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, cfg.VertexProject, cfg.VertexLocation, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	log.Printf("✅ [VertexAI] Client initialized for project=%s, location=%s, model=%s",
		cfg.VertexProject, cfg.VertexLocation, cfg.GeminiModel)
	return &Client{
		client: client,
		model:  client.GenerativeModel(cfg.GeminiModel),
	}, nil
}

func credentialOptions(cfg *config.Config) ([]option.ClientOption, error) {
	if cfg.VertexCredentialsJSON != "" {
		log.Println("✅ [VertexAI] Using VERTEXAI_CREDENTIALS_JSON from environment")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.VertexCredentialsJSON))}, nil
	}

	if cfg.VertexCredentialsPath != "" {
		log.Printf("✅ [VertexAI] Using credentials from file: %s", cfg.VertexCredentialsPath)
		credsData, err := os.ReadFile(cfg.VertexCredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		var creds map[string]interface{}
		if err := json.Unmarshal(credsData, &creds); err != nil {
			return nil, fmt.Errorf("invalid JSON credentials: %w", err)
		}
		return []option.ClientOption{option.WithCredentialsJSON(credsData)}, nil
	}

	log.Println("⚠️  [VertexAI] No explicit credentials found, using Application Default Credentials")
	return nil, nil
}

// GenerateFromImage mirrors gemini.Client.GenerateFromImage.
func (c *Client) GenerateFromImage(ctx context.Context, imageData []byte, mimeType, instruction string) ([]byte, error) {
	resp, err := c.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: imageData},
		genai.Text(instruction),
	)
	if err != nil {
		return nil, fmt.Errorf("vertex generate content: %w", err)
	}
	return firstInlineImage(resp)
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func firstInlineImage(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, gemini.ErrNoImageData
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, gemini.ErrNoImageData
	}
	blob, ok := candidate.Content.Parts[0].(genai.Blob)
	if !ok || len(blob.Data) == 0 {
		return nil, gemini.ErrNoImageData
	}
	return blob.Data, nil
}
