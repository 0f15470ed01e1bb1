package substrate

import "testing"

func TestValidateRequiresGeminiKey(t *testing.T) {
	cfg := Config{EmbeddingBackend: "gemini"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a gemini backend with no API key")
	}
}

func TestValidateRequiresOpenAIKey(t *testing.T) {
	cfg := Config{EmbeddingBackend: "openai"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an openai backend with no API key")
	}
}

func TestValidateAllowsOllamaWithNoHost(t *testing.T) {
	cfg := Config{EmbeddingBackend: "ollama"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("ollama backend should not require a host, got %v", err)
	}
}

func TestValidateAllowsNoneBackend(t *testing.T) {
	cfg := Config{EmbeddingBackend: "none"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("none backend should never fail validation, got %v", err)
	}
}
