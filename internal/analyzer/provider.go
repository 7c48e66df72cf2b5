package analyzer

import (
	"context"
	"fmt"
	"os"
	"strconv"

	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// Backend enumerates the supported analysis model providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendStatic disables the LLM and uses the heuristic analyzer.
	BackendStatic Backend = "static"
)

// ProviderConfig holds the analysis model configuration resolved from
// environment variables or explicit caller-supplied values.
type ProviderConfig struct {
	// Backend identifies which provider to use.
	Backend Backend

	// Model is the model name or deployment ID (e.g. "gpt-4o", "llama3").
	Model string

	// BaseURL overrides the default API endpoint (required for Ollama and Azure).
	BaseURL string

	// APIKey is the authentication credential for the selected provider.
	APIKey string

	// AzureDeployment is the Azure OpenAI deployment name (Azure only).
	AzureDeployment string

	// AzureAPIVersion is the Azure OpenAI REST API version (Azure only).
	AzureAPIVersion string

	// MaxTokens caps the analysis response length.
	MaxTokens int

	// Temperature controls response randomness; analysis wants it low.
	Temperature float32
}

// ProviderConfigFromEnv resolves the analyzer provider configuration from
// environment variables.
//
//	MODEL_PROVIDER = ollama | openai | azure | gemini | static (default: static)
//
//	Ollama:  OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3)
//	OpenAI:  OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o-mini)
//	Azure:   AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	         AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Gemini:  GOOGLE_API_KEY, GEMINI_MODEL (default: gemini-1.5-flash)
//
//	Shared:  MODEL_MAX_TOKENS (default: 1024), MODEL_TEMPERATURE (default: 0.1)
func ProviderConfigFromEnv() *ProviderConfig {
	cfg := &ProviderConfig{
		Backend:         Backend(envOrDefault("MODEL_PROVIDER", string(BackendStatic))),
		MaxTokens:       envInt("MODEL_MAX_TOKENS", 1024),
		Temperature:     envFloat32("MODEL_TEMPERATURE", 0.1),
		AzureAPIVersion: envOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
	}

	switch cfg.Backend {
	case BackendOllama:
		cfg.BaseURL = envOrDefault("OLLAMA_HOST", "http://localhost:11434")
		cfg.Model = envOrDefault("OLLAMA_MODEL", "llama3")
	case BackendOpenAI:
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		cfg.Model = envOrDefault("OPENAI_MODEL", "gpt-4o-mini")
	case BackendAzure:
		cfg.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
		cfg.BaseURL = os.Getenv("AZURE_OPENAI_ENDPOINT")
		cfg.AzureDeployment = os.Getenv("AZURE_OPENAI_DEPLOYMENT")
	case BackendGemini:
		cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
		cfg.Model = envOrDefault("GEMINI_MODEL", "gemini-1.5-flash")
	}

	return cfg
}

// NewFromEnv constructs an Analyzer from environment configuration. With
// MODEL_PROVIDER unset or "static" it returns the heuristic analyzer, so a
// bare deployment works without any LLM credentials.
func NewFromEnv(ctx context.Context) (Analyzer, error) {
	cfg := ProviderConfigFromEnv()
	if cfg.Backend == BackendStatic {
		return NewStaticAnalyzer(), nil
	}

	chatModel, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewModelAnalyzer(chatModel)
}

// NewChatModel constructs the eino chat model for the given provider config.
// It validates per-backend requirements first so callers get a clear error
// at startup rather than on the first analysis call.
func NewChatModel(ctx context.Context, cfg *ProviderConfig) (model.ToolCallingChatModel, error) {
	switch cfg.Backend {
	case BackendOllama:
		return newOllamaModel(ctx, cfg)
	case BackendOpenAI:
		return newOpenAIModel(ctx, cfg)
	case BackendAzure:
		return newAzureModel(ctx, cfg)
	case BackendGemini:
		return newGeminiModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("analyzer: unknown backend %q — valid values: ollama, openai, azure, gemini, static", cfg.Backend)
	}
}

// newOllamaModel constructs a chat model backed by a local Ollama instance.
func newOllamaModel(ctx context.Context, cfg *ProviderConfig) (model.ToolCallingChatModel, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{ //nolint:wrapcheck // constructor passthrough
		BaseURL: baseURL,
		Model:   cfg.Model,
	})
}

// newOpenAIModel constructs a chat model backed by the OpenAI API.
func newOpenAIModel(ctx context.Context, cfg *ProviderConfig) (model.ToolCallingChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("analyzer: OPENAI_API_KEY is required for openai backend")
	}
	return einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{ //nolint:wrapcheck // constructor passthrough
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		MaxTokens:   &cfg.MaxTokens,
		Temperature: &cfg.Temperature,
	})
}

// newAzureModel constructs a chat model backed by Azure OpenAI Service.
func newAzureModel(ctx context.Context, cfg *ProviderConfig) (model.ToolCallingChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("analyzer: AZURE_OPENAI_API_KEY is required for azure backend")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("analyzer: AZURE_OPENAI_ENDPOINT is required for azure backend")
	}
	if cfg.AzureDeployment == "" {
		return nil, fmt.Errorf("analyzer: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
	}
	return einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{ //nolint:wrapcheck // constructor passthrough
		Model:       cfg.AzureDeployment,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		ByAzure:     true,
		APIVersion:  cfg.AzureAPIVersion,
		MaxTokens:   &cfg.MaxTokens,
		Temperature: &cfg.Temperature,
		// Use the deployment name as-is — the default mapper strips dots/colons
		// which breaks deployment names like "gpt-4.1".
		AzureModelMapperFunc: func(model string) string { return model },
	})
}

// newGeminiModel constructs a chat model backed by Google Gemini.
func newGeminiModel(ctx context.Context, cfg *ProviderConfig) (model.ToolCallingChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("analyzer: GOOGLE_API_KEY is required for gemini backend")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer: failed to create Gemini client: %w", err)
	}
	return einogemini.NewChatModel(ctx, &einogemini.Config{ //nolint:wrapcheck // constructor passthrough
		Client: client,
		Model:  cfg.Model,
	})
}

// envOrDefault returns the value of the named environment variable, or
// fallback if unset or empty.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the integer value of the named environment variable, or
// fallback if unset or not parseable.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// envFloat32 returns the float value of the named environment variable, or
// fallback if unset or not parseable.
func envFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
