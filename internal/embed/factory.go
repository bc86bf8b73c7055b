package embed

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	// ProviderOllama uses a local Ollama server (default).
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings, for offline use and tests.
	ProviderStatic ProviderType = "static"
)

// Config selects and configures an embedder.
type Config struct {
	Provider   ProviderType
	Host       string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration

	// CacheSize is the LRU size for query embeddings. Negative disables the cache.
	CacheSize int
}

// NewEmbedder builds the configured embedder, wrapped in a cache unless
// CacheSize is negative. An unreachable Ollama is an error, never a silent
// fallback to static vectors, since mixing the two corrupts the index.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	var embedder Embedder

	switch ParseProvider(string(cfg.Provider)) {
	case ProviderStatic:
		embedder = NewStaticEmbedder()
	case ProviderOllama:
		oc := DefaultOllamaConfig()
		if cfg.Host != "" {
			oc.Host = cfg.Host
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.BatchSize > 0 {
			oc.BatchSize = cfg.BatchSize
		}
		if cfg.Timeout > 0 {
			oc.Timeout = cfg.Timeout
		}
		oc.Dimensions = cfg.Dimensions

		ollama, err := NewOllamaEmbedder(ctx, oc)
		if err != nil {
			return nil, err
		}
		embedder = ollama
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (valid: %s)",
			cfg.Provider, strings.Join(ValidProviders(), ", "))
	}

	if cfg.CacheSize < 0 {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, cfg.CacheSize), nil
}

// ParseProvider normalises a provider name. Empty means ollama.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ollama":
		return ProviderOllama
	case "static":
		return ProviderStatic
	default:
		return ProviderType(s)
	}
}

// ValidProviders lists the accepted provider names.
func ValidProviders() []string {
	return []string{string(ProviderOllama), string(ProviderStatic)}
}

// IsValidProvider reports whether s names a known provider.
func IsValidProvider(s string) bool {
	p := ParseProvider(s)
	return p == ProviderOllama || p == ProviderStatic
}
