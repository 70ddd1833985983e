package relay

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/chatrelay/chatrelay/pkg/llm"
)

// SystemPrompt is prepended to every conversation sent upstream.
const SystemPrompt = "Eres un asistente útil y conciso. Responde siempre en español. " +
	"Si el mensaje del usuario incluye texto extraído de una imagen (OCR), úsalo como base para tu respuesta."

// OCRFailedReply is returned as a normal reply when an image holds no readable text.
const OCRFailedReply = "⚠️ No se pudo extraer texto legible de la imagen. " +
	"Prueba con una foto más nítida o escribe el texto directamente."

// DefaultInstruction stands in for the user text when only an image was sent.
const DefaultInstruction = "Analiza el texto extraído de la imagen."

const ocrTemplate = "Texto extraído de la imagen (OCR):\n" +
	"\"\"\"\n%s\n\"\"\"\n\n" +
	"Instrucción del usuario: %s"

var attachmentTag = regexp.MustCompile(`\[ATTACHMENT:[^\]]*\]`)

// StripAttachmentTags removes the [ATTACHMENT: ...] placeholders a client
// inserts for an uploaded file.
func StripAttachmentTags(s string) string {
	return strings.TrimSpace(attachmentTag.ReplaceAllString(s, ""))
}

// FrameOCR builds the content of the enriched last message.
func FrameOCR(ocrText, userText string) string {
	instruction := StripAttachmentTags(userText)
	if instruction == "" {
		instruction = DefaultInstruction
	}
	return fmt.Sprintf(ocrTemplate, ocrText, instruction)
}

// BuildMessages returns the system prompt followed by history.
func BuildMessages(history []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt})
	return append(out, history...)
}
