package main

import (
	"os"

	"github.com/spf13/cobra"

	ocrcmder "github.com/chatrelay/chatrelay/cmd/chatrelay/ocr"
	sendcmder "github.com/chatrelay/chatrelay/cmd/chatrelay/send"
	servecmder "github.com/chatrelay/chatrelay/cmd/chatrelay/serve"
)

const rootLongDesc string = `chatrelay forwards chat conversations to a hosted LLM
chat-completion API, optionally reading text from an attached image with OCR.

Secrets are read from the environment (or a .env file):
  GROQ_API_KEY      inference API key (required)
  CHAT_ACCESS_KEY   shared access key clients must send
  GEMINI_API_KEY    only for the gemini OCR engine`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Chat relay with OCR enrichment",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(sendcmder.NewSendCmd())
	cmd.AddCommand(ocrcmder.NewOCRCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
