package ai

import (
	"context"
	"fmt"
	"strings"

	"foodlabel-analyzer/internal/errs"
)

// JSONSchema is a named response schema for structured outputs.
type JSONSchema struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type multimodalMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// CompleteWithImages sends a prompt plus image URLs and asks for a reply
// conforming to schema. The raw JSON content is returned.
func (c *OpenAICompatibleClient) CompleteWithImages(ctx context.Context, cfg ChatConfig, prompt string, imageURLs []string, schema JSONSchema) (string, error) {
	parts := make([]contentPart, 0, len(imageURLs)+1)
	parts = append(parts, contentPart{Type: "text", Text: prompt})
	for _, u := range imageURLs {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u}})
	}

	content, err := c.chatCompletion(ctx, cfg, map[string]interface{}{
		"model":    cfg.Model,
		"messages": []multimodalMessage{{Role: "user", Content: parts}},
		"response_format": map[string]interface{}{
			"type":        "json_schema",
			"json_schema": schema,
		},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: empty structured reply", errs.ErrResponseFormat)
	}
	return content, nil
}
