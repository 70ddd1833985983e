// Package proxy serves the chat relay over HTTP.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/pkg/llm"
	"github.com/chatrelay/chatrelay/pkg/relay"
)

// ChatHandler runs one chat request. Errors are expected to be
// *relay.ChatError; anything else is reported as an internal error.
type ChatHandler interface {
	Handle(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// Proxy is the HTTP front of the relay. It is stateless: every request is
// handed to the ChatHandler and its outcome written back as JSON.
type Proxy struct {
	config  Config
	chat    ChatHandler
	closers []io.Closer
	logger  *zap.Logger
	server  *fiber.App
}

// New creates a new Proxy. closers are closed, in order, by Close.
func New(config Config, chat ChatHandler, logger *zap.Logger, closers ...io.Closer) *Proxy {
	if config.ChatPath == "" {
		config.ChatPath = "/api/chat"
	}

	p := &Proxy{
		config:  config,
		chat:    chat,
		closers: closers,
		logger:  logger,
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		BodyLimit:             config.BodyLimit,
		ErrorHandler:          p.handleError,
	})

	app.Use(requestID())
	app.Use(accessLog(logger))
	app.Use(recover.New())

	// Register routes. Every method reaches handleChat so that anything
	// other than POST gets an empty 405.
	app.All(config.ChatPath, p.handleChat)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	p.server = app
	return p
}

// App exposes the underlying fiber application, e.g. for adapting it to
// a net/http handler.
func (p *Proxy) App() *fiber.App {
	return p.server
}

// Run starts the proxy server on the configured listening address
func (p *Proxy) Run() error {
	p.logger.Info("starting relay server",
		zap.String("listen", p.config.ListenAddr),
		zap.String("chat_path", p.config.ChatPath),
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the proxy server on an existing listener.
func (p *Proxy) RunWithListener(ln net.Listener) error {
	p.logger.Info("starting relay server",
		zap.String("listen", ln.Addr().String()),
		zap.String("chat_path", p.config.ChatPath),
	)

	return p.server.Listener(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (p *Proxy) Shutdown() error {
	return p.server.Shutdown()
}

// Close releases the resources handed to New.
func (p *Proxy) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handleChat relays a chat request. Only POST is accepted.
func (p *Proxy) handleChat(c *fiber.Ctx) error {
	if c.Method() != fiber.MethodPost {
		c.Set(fiber.HeaderAllow, fiber.MethodPost)
		c.Status(fiber.StatusMethodNotAllowed)
		return nil
	}

	var req llm.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return p.writeError(c, relay.Internal(err))
	}

	p.logger.Debug("received chat request",
		zap.String("request_id", requestIDFrom(c)),
		zap.Int("message_count", len(req.Messages)),
		zap.Bool("image", req.ImageBase64 != ""),
	)

	// The fasthttp context is cancelled on Shutdown, not on client disconnect.
	resp, err := p.chat.Handle(c.Context(), &req)
	if err != nil {
		return p.writeError(c, err)
	}

	return c.JSON(resp)
}

// writeError converts err to the wire shape. The cause is logged and never
// sent to the client.
func (p *Proxy) writeError(c *fiber.Ctx, err error) error {
	var ce *relay.ChatError
	if !errors.As(err, &ce) {
		ce = relay.Internal(err)
	}

	fields := []zap.Field{
		zap.String("request_id", requestIDFrom(c)),
		zap.String("kind", ce.Kind.String()),
		zap.Int("status", ce.Status),
	}
	if ce.Err != nil {
		fields = append(fields, zap.Error(ce.Err))
	}

	if ce.Status >= fiber.StatusInternalServerError {
		p.logger.Error("chat request failed", fields...)
	} else {
		p.logger.Info("chat request rejected", fields...)
	}

	return c.Status(ce.Status).JSON(llm.ErrorResponse{Error: ce.Message})
}

// handleError is the last resort for errors and recovered panics that
// escape the handlers.
func (p *Proxy) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(llm.ErrorResponse{Error: fe.Message})
	}

	p.logger.Error("unhandled error",
		zap.String("request_id", requestIDFrom(c)),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: relay.MsgInternal})
}
