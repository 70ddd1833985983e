// Package ocr extracts plain text from images for the chat relay.
package ocr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Languages the engines are configured to recognise: English and Spanish.
var Languages = []string{"eng", "spa"}

// Engine is a text recognition backend.
type Engine interface {
	// Name identifies the engine in logs.
	Name() string

	// Recognize returns the raw text found in the image.
	Recognize(ctx context.Context, image []byte) (string, error)

	// Close releases the resources held by the engine.
	Close() error
}

// Factory creates an Engine. It is called lazily on first use.
type Factory func(ctx context.Context) (Engine, error)

// Worker is the process-lifetime OCR worker. The engine is created on the
// first Extract call and reused afterwards. Calls are serialised, so an
// engine that is not reentrant is never entered twice at once.
type Worker struct {
	factory Factory
	logger  *zap.Logger

	mu     sync.Mutex
	engine Engine
}

// NewWorker creates a Worker that builds its engine with factory.
func NewWorker(factory Factory, logger *zap.Logger) *Worker {
	return &Worker{
		factory: factory,
		logger:  logger,
	}
}

// Extract runs text recognition on image and returns the trimmed text.
// An empty string with a nil error means no readable text was found.
func (w *Worker) Extract(ctx context.Context, image []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureEngine(ctx); err != nil {
		return "", err
	}

	text, err := w.engine.Recognize(ctx, image)
	if err != nil {
		return "", fmt.Errorf("%s recognize: %w", w.engine.Name(), err)
	}

	text = strings.TrimSpace(text)
	w.logger.Debug("ocr finished",
		zap.String("engine", w.engine.Name()),
		zap.Int("image_bytes", len(image)),
		zap.Int("text_len", len(text)),
	)
	return text, nil
}

// ensureEngine must be called with w.mu held. A failed creation is not
// remembered, the next call tries again.
func (w *Worker) ensureEngine(ctx context.Context) error {
	if w.engine != nil {
		return nil
	}

	engine, err := w.factory(ctx)
	if err != nil {
		return fmt.Errorf("init ocr engine: %w", err)
	}

	w.engine = engine
	w.logger.Info("ocr engine initialised",
		zap.String("engine", engine.Name()),
		zap.Strings("languages", Languages),
	)
	return nil
}

// Close releases the engine if one was created.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.engine == nil {
		return nil
	}

	err := w.engine.Close()
	w.engine = nil
	return err
}
