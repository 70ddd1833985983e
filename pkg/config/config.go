// Package config loads the chat relay configuration from an optional TOML
// file, a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/chatrelay/chatrelay/pkg/inference"
	"github.com/chatrelay/chatrelay/pkg/logger"
	"github.com/chatrelay/chatrelay/pkg/ocr"
	"github.com/chatrelay/chatrelay/pkg/relay"
)

// Environment variables read by the relay.
const (
	EnvInferenceKey = "GROQ_API_KEY"
	EnvAccessKey    = "CHAT_ACCESS_KEY"
	EnvGeminiKey    = "GEMINI_API_KEY"

	EnvListen         = "CHATRELAY_LISTEN"
	EnvModel          = "CHATRELAY_MODEL"
	EnvInferenceURL   = "CHATRELAY_INFERENCE_URL"
	EnvOCREngine      = "CHATRELAY_OCR_ENGINE"
	EnvAccessRequired = "CHATRELAY_ACCESS_REQUIRED"
)

// Config is the relay configuration. Secrets are deliberately absent, see
// EnvSecrets.
type Config struct {
	// EnvFile is loaded into the environment before overrides are applied.
	EnvFile string `toml:"env_file"`

	Server    ServerConfig    `toml:"server"`
	Inference InferenceConfig `toml:"inference"`
	Access    AccessConfig    `toml:"access"`
	OCR       OCRConfig       `toml:"ocr"`
}

type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Listen string `toml:"listen"`

	// Path of the chat endpoint
	ChatPath string `toml:"chat_path"`

	// BodyLimit is the maximum request body size in bytes.
	BodyLimit int `toml:"body_limit"`

	Debug     bool   `toml:"debug"`
	LogFormat string `toml:"log_format"`
}

type InferenceConfig struct {
	URL     string   `toml:"url"`
	Model   string   `toml:"model"`
	Timeout Duration `toml:"timeout"`
}

type AccessConfig struct {
	Required bool `toml:"required"`
}

type OCRConfig struct {
	// Engine is "tesseract" or "gemini".
	Engine        string `toml:"engine"`
	TesseractPath string `toml:"tesseract_path"`
	GeminiModel   string `toml:"gemini_model"`
}

// Duration is a time.Duration written as a string such as "90s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		EnvFile: ".env",
		Server: ServerConfig{
			Listen:    ":8080",
			ChatPath:  "/api/chat",
			BodyLimit: 10 * 1024 * 1024,
			LogFormat: logger.FormatConsole,
		},
		Inference: InferenceConfig{
			URL:     inference.DefaultURL,
			Model:   relay.DefaultModel,
			Timeout: Duration{inference.DefaultTimeout},
		},
		Access: AccessConfig{
			Required: true,
		},
		OCR: OCRConfig{
			Engine:        ocr.EngineTesseract,
			TesseractPath: "tesseract",
			GeminiModel:   ocr.DefaultGeminiModel,
		},
	}
}

// Load builds the configuration: defaults, then the TOML file at path (if
// path is not empty), then the .env file, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", path, err)
		}
	}

	if cfg.EnvFile != "" {
		if err := godotenv.Load(cfg.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("could not load env file %s: %w", cfg.EnvFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvListen); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Inference.Model = v
	}
	if v := os.Getenv(EnvInferenceURL); v != "" {
		c.Inference.URL = v
	}
	if v := os.Getenv(EnvOCREngine); v != "" {
		c.OCR.Engine = v
	}
	if v := os.Getenv(EnvAccessRequired); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvAccessRequired, v, err)
		}
		c.Access.Required = b
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.OCR.Engine {
	case ocr.EngineTesseract, ocr.EngineGemini:
	default:
		return fmt.Errorf("unknown ocr engine %q", c.OCR.Engine)
	}
	switch c.Server.LogFormat {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.Server.LogFormat)
	}
	if c.Inference.Model == "" {
		return errors.New("inference model must not be empty")
	}
	if c.Inference.Timeout.Duration <= 0 {
		return errors.New("inference timeout must be positive")
	}
	if c.Server.BodyLimit <= 0 {
		return errors.New("server body_limit must be positive")
	}
	if c.Server.ChatPath == "" || c.Server.ChatPath[0] != '/' {
		return fmt.Errorf("server chat_path %q must start with /", c.Server.ChatPath)
	}
	return nil
}

// OCRFactory returns the engine factory selected by the configuration.
func (c *Config) OCRFactory(secrets EnvSecrets) (ocr.Factory, error) {
	return ocr.NewFactory(c.OCR.Engine, ocr.EngineOptions{
		TesseractPath: c.OCR.TesseractPath,
		GeminiModel:   c.OCR.GeminiModel,
		GeminiKey:     secrets.GeminiKey,
	})
}

// Relay returns the pipeline settings.
func (c *Config) Relay() relay.Config {
	return relay.Config{
		Model:          c.Inference.Model,
		AccessRequired: c.Access.Required,
	}
}
