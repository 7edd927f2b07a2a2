// Package narrative generates short prose summaries of assembled profiles
// through a language model. Narration is strictly additive: it never alters
// scores and a failed generation degrades to an empty narrative upstream.
package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/profile"
	"github.com/victoria-analytics/traitmeter/internal/resilience"
)

// Supported providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config selects and configures the narrative backend.
type Config struct {
	Provider     string
	Model        string
	OllamaHost   string
	OpenAIAPIKey string
}

// Generator wraps a langchaingo model behind the pipeline's Narrator contract.
type Generator struct {
	llm       llms.Model
	modelName string
	retry     resilience.Config
}

// New creates a generator for the configured provider.
func New(cfg Config) (*Generator, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, errors.NewConfigurationError("create ollama model", err)
		}

	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.NewConfigurationError("OpenAI API key required", nil)
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, errors.NewConfigurationError("create openai model", err)
		}

	default:
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("unsupported narrative provider: %s", cfg.Provider), nil)
	}

	return &Generator{llm: model, modelName: cfg.Model, retry: resilience.DefaultConfig()}, nil
}

// Model returns the backing model name.
func (g *Generator) Model() string { return g.modelName }

const systemPrompt = `You are a behavioral assessment writer. Write a short narrative summary (2-4 sentences) of a person's trait profile.
- Describe only what the data shows; never invent facts or give advice
- Lead with the archetype and the strongest trait bands
- Plain, professional tone; no bullet points, no headings`

// Narrate writes a prose summary of one profile. Transient model failures are
// retried with backoff before giving up.
func (g *Generator) Narrate(ctx context.Context, p profile.PersonProfile) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, describeProfile(p)),
	}

	var text string
	err := resilience.Retry(ctx, g.retry, func() error {
		response, err := g.llm.GenerateContent(ctx, messages)
		if err != nil {
			return fmt.Errorf("generate narrative: %w", err)
		}
		if len(response.Choices) == 0 {
			return fmt.Errorf("no response choices")
		}
		text = strings.TrimSpace(response.Choices[0].Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// describeProfile renders the profile as the model's input. Unscoreable traits
// are named so the model does not guess at them.
func describeProfile(p profile.PersonProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Archetype: %s\n", p.Cluster.Archetype)
	if p.Cluster.Confidence != nil {
		fmt.Fprintf(&b, "Archetype confidence: %.2f\n", *p.Cluster.Confidence)
	}
	b.WriteString("Traits:\n")
	for _, s := range p.Traits {
		if s.Unscoreable {
			fmt.Fprintf(&b, "- %s: unscoreable\n", s.Trait)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s (percentile %.0f)\n", s.Trait, s.Band, s.Percentile)
	}
	b.WriteString("\nNarrative summary:")
	return b.String()
}
