package providers

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Gemini Background Image Service
// Generates background imagery for jobs whose background mode is "ai" instead
// of stock search. The pipeline uploads the returned bytes to storage and
// feeds the resulting URLs to the timeline builder like any other asset.
// ---------------------------------------------------------------------------

const (
	defaultImagenModel = "imagen-3.0-generate-002"
)

// BackgroundGenerator produces AI background images for a topic prompt.
// Optional: when nil, background mode "ai" is rejected as a validation error.
type BackgroundGenerator interface {
	GenerateBackgrounds(ctx context.Context, prompt string, count int, aspectRatio string) ([][]byte, error)
}

// GeminiBackgroundService generates background stills via the Google Gen AI SDK.
type GeminiBackgroundService struct {
	apiKey string
	model  string
}

// NewGeminiBackgroundService creates the service. model defaults to Imagen 3
// when empty.
func NewGeminiBackgroundService(apiKey, model string) *GeminiBackgroundService {
	if model == "" {
		model = defaultImagenModel
	}
	return &GeminiBackgroundService{
		apiKey: apiKey,
		model:  model,
	}
}

// GenerateBackgrounds generates count background images for the given prompt.
// Returns raw image bytes per image.
func (s *GeminiBackgroundService) GenerateBackgrounds(ctx context.Context, prompt string, count int, aspectRatio string) ([][]byte, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	if count <= 0 {
		count = 1
	}
	if aspectRatio == "" {
		aspectRatio = "9:16"
	}

	fullPrompt := fmt.Sprintf(
		"Cinematic background scene: %s. No text, no watermarks, no people in focus. Soft ambient lighting suitable as video backdrop.",
		prompt,
	)

	config := &genai.GenerateImagesConfig{
		NumberOfImages: int32(count),
		AspectRatio:    aspectRatio,
	}

	log.Printf("[Gemini] Generating %d background image(s) (model=%s, aspect=%s, promptLen=%d)",
		count, s.model, aspectRatio, len(fullPrompt))

	resp, err := client.Models.GenerateImages(ctx, s.model, fullPrompt, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate background images: %w", err)
	}

	if len(resp.GeneratedImages) == 0 {
		return nil, fmt.Errorf("no images in generation response")
	}

	images := make([][]byte, 0, len(resp.GeneratedImages))
	for i, gen := range resp.GeneratedImages {
		if gen.Image == nil || len(gen.Image.ImageBytes) == 0 {
			log.Printf("[Gemini] WARNING: generated image %d is empty, skipping", i)
			continue
		}
		images = append(images, gen.Image.ImageBytes)
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("all generated images were empty")
	}

	log.Printf("[Gemini] Generated %d background image(s)", len(images))
	return images, nil
}
