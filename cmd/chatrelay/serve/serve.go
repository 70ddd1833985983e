package servecmder

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/api"
	"github.com/chatrelay/chatrelay/pkg/config"
	"github.com/chatrelay/chatrelay/pkg/logger"
)

const serveLongDesc string = `Run the chat relay HTTP server.

Configuration comes from the optional TOML file, then the .env file,
then CHATRELAY_* environment variables, then the flags below.
Secrets are read from the environment on every request; with --watch-env
edits to the .env file apply without a restart. Variables set in the
environment itself always win over the .env file.

Examples:
  chatrelay serve
  chatrelay serve --config chatrelay.toml --listen :9090 --debug`

const serveShortDesc string = "Run the chat relay server"

type serveCommander struct {
	configPath string
	listen     string
	debug      bool
	logFormat  string
	watchEnv   bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (overrides config)")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&cmder.logFormat, "log-format", "", "Log format: console or json (overrides config)")
	cmd.Flags().BoolVar(&cmder.watchEnv, "watch-env", true, "Reload the .env file when it changes")

	return cmd
}

func (c *serveCommander) run(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	if c.listen != "" {
		cfg.Server.Listen = c.listen
	}
	if c.debug {
		cfg.Server.Debug = true
	}
	if c.logFormat != "" {
		cfg.Server.LogFormat = c.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.NewLogger(cfg.Server.Debug, cfg.Server.LogFormat)
	defer log.Sync()

	log.Info("chatrelay starting",
		zap.String("listen", cfg.Server.Listen),
		zap.String("upstream", cfg.Inference.URL),
		zap.String("model", cfg.Inference.Model),
		zap.String("ocr_engine", cfg.OCR.Engine),
		zap.Bool("access_required", cfg.Access.Required),
		zap.Bool("debug", cfg.Server.Debug),
	)

	if (config.EnvSecrets{}).InferenceKey() == "" {
		log.Warn("GROQ_API_KEY is not set, chat requests will fail until it is")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.watchEnv && cfg.EnvFile != "" {
		if err := config.WatchEnvFile(ctx, cfg.EnvFile, log, nil); err != nil {
			log.Warn("env file watching disabled", zap.Error(err))
		}
	}

	p, err := api.NewProxy(cfg, log)
	if err != nil {
		return fmt.Errorf("could not create relay: %w", err)
	}
	defer p.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("relay server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
		return p.Shutdown()
	}
}
