// Package relay implements the chat pipeline: validate the request, check
// access, optionally enrich the last turn with OCR text, forward the
// conversation to the inference API and translate its answer.
package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/pkg/inference"
	"github.com/chatrelay/chatrelay/pkg/llm"
	"github.com/chatrelay/chatrelay/pkg/ocr"
)

// DefaultModel is the inference model used when none is configured.
const DefaultModel = "llama3-8b-8192"

// TextExtractor extracts trimmed text from raw image bytes.
type TextExtractor interface {
	Extract(ctx context.Context, image []byte) (string, error)
}

// InferenceClient performs one chat completion.
type InferenceClient interface {
	Complete(ctx context.Context, apiKey string, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Secrets provides the server-held secrets. Implementations are consulted
// on every request, so rotated values apply immediately.
type Secrets interface {
	InferenceKey() string
	AccessSecret() string
}

// Config holds the relay settings that are not secrets.
type Config struct {
	Model          string
	AccessRequired bool
}

// Relay runs the chat pipeline. It holds no per-request state and is safe
// for concurrent use as long as its collaborators are.
type Relay struct {
	config    Config
	secrets   Secrets
	extractor TextExtractor
	client    InferenceClient
	logger    *zap.Logger
}

// New creates a Relay. extractor may be nil, in which case requests with an
// image fail with an internal error.
func New(config Config, secrets Secrets, extractor TextExtractor, client InferenceClient, logger *zap.Logger) *Relay {
	if config.Model == "" {
		config.Model = DefaultModel
	}

	return &Relay{
		config:    config,
		secrets:   secrets,
		extractor: extractor,
		client:    client,
		logger:    logger,
	}
}

// Handle runs req through the pipeline. The returned error, when not nil,
// is always a *ChatError.
func (r *Relay) Handle(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	startTime := time.Now()

	if len(req.Messages) == 0 {
		return nil, badRequest(MsgMissingMessages)
	}

	policy := AccessPolicy{
		Required: r.config.AccessRequired,
		Secret:   r.secrets.AccessSecret(),
	}
	if !policy.Allow(req.AccessKey) {
		r.logger.Warn("access denied",
			zap.Bool("key_present", req.AccessKey != ""),
			zap.Bool("secret_configured", policy.Secret != ""),
		)
		return nil, unauthorized()
	}

	apiKey := r.secrets.InferenceKey()
	if apiKey == "" {
		r.logger.Error("inference API key is not configured")
		return nil, misconfigured(MsgMissingAPIKey)
	}

	history := make([]llm.Message, len(req.Messages))
	copy(history, req.Messages)

	if req.ImageBase64 != "" {
		text, err := r.extractText(ctx, req.ImageBase64)
		if err != nil {
			return nil, Internal(err)
		}
		if text == "" {
			r.logger.Info("ocr found no readable text, replying with notice")
			return &llm.ChatResponse{Reply: OCRFailedReply}, nil
		}

		last := &history[len(history)-1]
		last.Content = FrameOCR(text, last.Content)
	}

	completion := llm.CompletionRequest{
		Model:    r.config.Model,
		Messages: BuildMessages(history),
	}

	resp, err := r.client.Complete(ctx, apiKey, completion)
	if err != nil {
		var upErr *inference.UpstreamError
		if errors.As(err, &upErr) {
			r.logger.Warn("upstream returned error",
				zap.Int("status", upErr.StatusCode),
				zap.String("message", upErr.Message),
			)
			return nil, upstream(upErr.StatusCode, upErr.Message, err)
		}
		return nil, Internal(err)
	}

	reply, ok := resp.FirstContent()
	if !ok || reply == "" {
		r.logger.Error("upstream response has no choices[0].message.content")
		return nil, shapeMismatch()
	}

	r.logger.Debug("chat relayed",
		zap.String("model", r.config.Model),
		zap.Int("message_count", len(completion.Messages)),
		zap.Bool("ocr", req.ImageBase64 != ""),
		zap.String("reply_preview", truncate(reply, 100)),
		zap.Duration("duration", time.Since(startTime)),
	)

	return &llm.ChatResponse{Reply: reply}, nil
}

func (r *Relay) extractText(ctx context.Context, payload string) (string, error) {
	if r.extractor == nil {
		return "", errors.New("no ocr extractor configured")
	}

	image, err := ocr.Decode(payload)
	if err != nil {
		return "", err
	}

	text, err := r.extractor.Extract(ctx, image)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
