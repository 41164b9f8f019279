package factory

import (
	"fmt"

	"biblestudy-be/pkg/embedding"
	"biblestudy-be/pkg/embedding/jina"
)

func NewEmbeddingProvider(providerType, baseURL, model, apiKey string) (embedding.EmbeddingProvider, error) {
	switch providerType {
	case "", "ollama":
		return embedding.NewOllamaProvider(baseURL, model), nil
	case "jina":
		return jina.NewJinaProvider(apiKey), nil
	case "gemini":
		return embedding.NewGeminiProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", providerType)
	}
}
