package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-1.5-flash"

const geminiInstruction = `Transcribe all legible text in the image exactly as written.
The text may be in English or Spanish. Do not translate, summarise or comment.
Reply with the transcription only. If there is no legible text, reply with an empty message.`

// Gemini is a hosted engine backed by the Gemini vision models.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

// NewGeminiFactory returns a Factory for the Gemini engine. apiKey is
// resolved when the engine is first created.
func NewGeminiFactory(apiKey func() string, model string) Factory {
	return func(ctx context.Context) (Engine, error) {
		return NewGemini(ctx, apiKey(), model)
	}
}

// NewGemini creates a Gemini engine.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	m := client.GenerativeModel(model)
	m.SetTemperature(0)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(geminiInstruction)},
	}

	return &Gemini{
		client: client,
		model:  m,
		name:   "gemini/" + model,
	}, nil
}

func (g *Gemini) Name() string { return g.name }

func (g *Gemini) Recognize(ctx context.Context, image []byte) (string, error) {
	mime := DetectMIME(image)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("unsupported image type %q", mime)
	}

	resp, err := g.model.GenerateContent(ctx,
		genai.Text("Transcribe this image."),
		&genai.Blob{MIMEType: mime, Data: image},
	)
	if err != nil {
		return "", err
	}

	return firstText(resp), nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}
