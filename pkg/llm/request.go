package llm

// ChatRequest is the body a client posts to the relay.
type ChatRequest struct {
	Messages    []Message `json:"messages"`               // Conversation history, oldest first
	AccessKey   string    `json:"access_key,omitempty"`   // Shared secret checked by the access policy
	ImageBase64 string    `json:"image_base64,omitempty"` // Optional image for OCR, plain base64 or data URL
}

// CompletionRequest is the body sent to the inference API.
type CompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}
