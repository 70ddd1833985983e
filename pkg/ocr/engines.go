package ocr

import "fmt"

// Engine names accepted by NewFactory.
const (
	EngineTesseract = "tesseract"
	EngineGemini    = "gemini"
)

// EngineOptions carries the settings for every engine; each engine reads
// only its own fields.
type EngineOptions struct {
	TesseractPath string
	GeminiModel   string
	GeminiKey     func() string
}

// NewFactory returns the Factory for the named engine.
func NewFactory(engine string, opts EngineOptions) (Factory, error) {
	switch engine {
	case EngineTesseract, "":
		return NewTesseractFactory(opts.TesseractPath), nil
	case EngineGemini:
		key := opts.GeminiKey
		if key == nil {
			key = func() string { return "" }
		}
		return NewGeminiFactory(key, opts.GeminiModel), nil
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", engine)
	}
}
