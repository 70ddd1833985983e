package config

import "os"

// EnvSecrets reads secrets from the environment on every call. Nothing is
// cached, so a value changed by WatchEnvFile applies to the next request.
type EnvSecrets struct{}

func (EnvSecrets) InferenceKey() string { return os.Getenv(EnvInferenceKey) }

func (EnvSecrets) AccessSecret() string { return os.Getenv(EnvAccessKey) }

func (EnvSecrets) GeminiKey() string { return os.Getenv(EnvGeminiKey) }
