package proxy

// Config is the proxy server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// ChatPath is the route of the chat endpoint (e.g., "/api/chat")
	ChatPath string

	// BodyLimit is the maximum accepted request body in bytes.
	// Base64 images make chat requests large, so this is well above
	// fiber's default.
	BodyLimit int
}
