// Package api exposes the relay as a plain net/http handler for hosting
// platforms that invoke a function per request.
package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gofiber/adaptor/v2"
	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/pkg/config"
	"github.com/chatrelay/chatrelay/pkg/inference"
	"github.com/chatrelay/chatrelay/pkg/llm"
	"github.com/chatrelay/chatrelay/pkg/logger"
	"github.com/chatrelay/chatrelay/pkg/ocr"
	"github.com/chatrelay/chatrelay/pkg/relay"
	"github.com/chatrelay/chatrelay/proxy"
)

var (
	once    sync.Once
	handler http.HandlerFunc
)

// Handler serves one invocation. The relay is built on the first call and
// reused for the lifetime of the process; secrets are still read from the
// environment on every request.
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		handler = build()
	})
	handler(w, r)
}

func build() http.HandlerFunc {
	cfg, err := config.Load("")
	if err != nil {
		log := logger.NewLogger(false, logger.FormatJSON)
		log.Error("invalid relay configuration", zap.Error(err))
		return misconfigured
	}

	log := logger.NewLogger(cfg.Server.Debug, logger.FormatJSON)
	return NewHandler(cfg, log)
}

// NewHandler builds the relay described by cfg and adapts it to net/http.
func NewHandler(cfg *config.Config, log *zap.Logger) http.HandlerFunc {
	p, err := NewProxy(cfg, log)
	if err != nil {
		log.Error("invalid relay configuration", zap.Error(err))
		return misconfigured
	}

	return adaptor.FiberApp(p.App())
}

// NewProxy wires the relay described by cfg: the lazily started OCR
// worker, the inference client and the HTTP front. Closing the proxy
// closes the OCR worker.
func NewProxy(cfg *config.Config, log *zap.Logger) (*proxy.Proxy, error) {
	secrets := config.EnvSecrets{}

	factory, err := cfg.OCRFactory(secrets)
	if err != nil {
		return nil, err
	}

	worker := ocr.NewWorker(factory, log)
	client := inference.New(cfg.Inference.URL, cfg.Inference.Timeout.Duration, log)
	r := relay.New(cfg.Relay(), secrets, worker, client, log)

	return proxy.New(proxy.Config{
		ListenAddr: cfg.Server.Listen,
		ChatPath:   cfg.Server.ChatPath,
		BodyLimit:  cfg.Server.BodyLimit,
	}, r, log, worker), nil
}

func misconfigured(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(llm.ErrorResponse{Error: relay.MsgInternal})
}
