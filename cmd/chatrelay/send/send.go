package sendcmder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/pkg/config"
	"github.com/chatrelay/chatrelay/pkg/llm"
)

const sendLongDesc string = `Send a one-turn chat to a running relay and print the reply.

The access key defaults to $CHAT_ACCESS_KEY. With --image the file is
base64-encoded and sent for OCR, and an [ATTACHMENT: <name>] tag is
added to the message the way chat clients do.

Examples:
  chatrelay send http://localhost:8080 "¿Qué es Go?"
  chatrelay send --image recibo.png http://localhost:8080 "Resume este recibo"`

const sendShortDesc string = "Send a message to a chat relay"

type sendCommander struct {
	accessKey string
	imagePath string
	chatPath  string
	timeout   time.Duration
}

func NewSendCmd() *cobra.Command {
	cmder := &sendCommander{}

	cmd := &cobra.Command{
		Use:   "send <server-url> <message>",
		Short: sendShortDesc,
		Long:  sendLongDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&cmder.accessKey, "key", "k", os.Getenv(config.EnvAccessKey), "Access key sent as access_key")
	cmd.Flags().StringVarP(&cmder.imagePath, "image", "i", "", "Image file to OCR")
	cmd.Flags().StringVar(&cmder.chatPath, "path", "/api/chat", "Chat endpoint path")
	cmd.Flags().DurationVar(&cmder.timeout, "timeout", 2*time.Minute, "Request timeout")

	return cmd
}

func (c *sendCommander) run(ctx context.Context, cmd *cobra.Command, serverURL, message string) error {
	serverURL = strings.TrimRight(serverURL, "/")

	req := llm.ChatRequest{
		AccessKey: c.accessKey,
	}

	if c.imagePath != "" {
		data, err := os.ReadFile(c.imagePath)
		if err != nil {
			return fmt.Errorf("could not read image %s: %w", c.imagePath, err)
		}
		req.ImageBase64 = base64.StdEncoding.EncodeToString(data)
		message = fmt.Sprintf("[ATTACHMENT: %s] %s", filepath.Base(c.imagePath), message)
	}

	req.Messages = []llm.Message{{Role: llm.RoleUser, Content: message}}

	reply, err := c.post(ctx, serverURL+c.chatPath, &req)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}

func (c *sendCommander) post(ctx context.Context, url string, req *llm.ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("could not marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e llm.ErrorResponse
		if err := json.Unmarshal(respBody, &e); err == nil && e.Error != "" {
			return "", fmt.Errorf("relay returned %d: %s", resp.StatusCode, e.Error)
		}
		return "", fmt.Errorf("relay returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result llm.ChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("could not decode response: %w", err)
	}

	return result.Reply, nil
}
