package substrate

import "context"

// EmbeddingProvider generates vector embeddings from text. Built-in:
// GeminiEmbedder, OpenAIEmbedder, OllamaEmbedder, DeterministicEmbedder.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	Dimension() int
}
