package ocrcmder

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/pkg/config"
	"github.com/chatrelay/chatrelay/pkg/logger"
	"github.com/chatrelay/chatrelay/pkg/ocr"
)

const ocrLongDesc string = `Run the configured OCR engine on a local image and print the text.

Useful to check that tesseract and its eng/spa language packs are
installed, or that the Gemini key works, before serving traffic.

Examples:
  chatrelay ocr foto.png
  chatrelay ocr --engine gemini foto.jpg`

const ocrShortDesc string = "Extract text from an image"

type ocrCommander struct {
	configPath string
	engine     string
	debug      bool
}

func NewOCRCmd() *cobra.Command {
	cmder := &ocrCommander{}

	cmd := &cobra.Command{
		Use:   "ocr <image>",
		Short: ocrShortDesc,
		Long:  ocrLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVarP(&cmder.engine, "engine", "e", "", "OCR engine: tesseract or gemini (overrides config)")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func (c *ocrCommander) run(ctx context.Context, cmd *cobra.Command, imagePath string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.engine != "" {
		cfg.OCR.Engine = c.engine
	}

	factory, err := cfg.OCRFactory(config.EnvSecrets{})
	if err != nil {
		return err
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("could not read image %s: %w", imagePath, err)
	}

	if c.debug {
		cfg.Server.Debug = true
	}
	log := logger.NewLogger(cfg.Server.Debug, cfg.Server.LogFormat)
	defer log.Sync()

	worker := ocr.NewWorker(factory, log)
	defer worker.Close()

	text, err := worker.Extract(ctx, image)
	if err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("no readable text found in %s", imagePath)
	}

	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
