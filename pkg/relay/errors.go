package relay

import (
	"fmt"
	"net/http"
)

// Kind classifies a ChatError.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindUpstream
	KindMisconfigured
	KindShapeMismatch
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindUpstream:
		return "upstream"
	case KindMisconfigured:
		return "misconfigured"
	case KindShapeMismatch:
		return "shape_mismatch"
	default:
		return "internal"
	}
}

// Client-facing messages.
const (
	MsgMissingMessages = "Se requiere un historial de mensajes (messages) no vacío."
	MsgUnauthorized    = "Acceso no autorizado."
	MsgMissingAPIKey   = "Falta la clave de la API de IA en el servidor. Revisa la configuración (GROQ_API_KEY)."
	MsgUnexpectedShape = "Respuesta inesperada de la API de IA (unexpected response shape)."
	MsgInternal        = "Error de procesamiento del servidor."
	MsgUpstreamUnknown = "Error desconocido"
)

// ChatError is a failed relay outcome. Message is safe to show the client;
// Err is the underlying cause and is only logged.
type ChatError struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

func (e *ChatError) Unwrap() error { return e.Err }

func badRequest(msg string) *ChatError {
	return &ChatError{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: msg}
}

func unauthorized() *ChatError {
	return &ChatError{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Message: MsgUnauthorized}
}

func misconfigured(msg string) *ChatError {
	return &ChatError{Kind: KindMisconfigured, Status: http.StatusInternalServerError, Message: msg}
}

func shapeMismatch() *ChatError {
	return &ChatError{Kind: KindShapeMismatch, Status: http.StatusInternalServerError, Message: MsgUnexpectedShape}
}

// Internal wraps err as a generic server error.
func Internal(err error) *ChatError {
	return &ChatError{Kind: KindInternal, Status: http.StatusInternalServerError, Message: MsgInternal, Err: err}
}

func upstream(status int, message string, err error) *ChatError {
	if message == "" {
		message = MsgUpstreamUnknown
	}
	return &ChatError{
		Kind:    KindUpstream,
		Status:  status,
		Message: fmt.Sprintf("Error de la API de IA (%d): %s", status, message),
		Err:     err,
	}
}
