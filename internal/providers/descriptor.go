package providers

import (
	"fmt"
	"strings"
)

const (
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	OpenRouter = "openrouter"
	Ollama     = "ollama"

	DefaultProvider = OpenAI
)

type Family int

const (
	FamilyOpenAI Family = iota + 1
	FamilyAnthropic
	FamilyOpenRouter
	FamilyOllama
)

type RuleKind int

const (
	// RuleClosedList accepts only the names in ModelRule.Models.
	RuleClosedList RuleKind = iota + 1
	// RuleNamespaced accepts any "namespace/name" identifier.
	RuleNamespaced
	// RuleLiveLookup accepts whatever the local service currently lists.
	RuleLiveLookup
)

type ModelRule struct {
	Kind   RuleKind
	Models []string
}

type Descriptor struct {
	ID             string
	DisplayName    string
	Family         Family
	DefaultModel   string
	RequiresSecret bool
	SecretEnv      string
	Rule           ModelRule
}

var descriptors = []Descriptor{
	{
		ID:             OpenAI,
		DisplayName:    "OpenAI",
		Family:         FamilyOpenAI,
		DefaultModel:   "gpt-4o",
		RequiresSecret: true,
		SecretEnv:      "OPENAI_API_KEY",
		Rule: ModelRule{Kind: RuleClosedList, Models: []string{
			"gpt-4o",
			"gpt-4o-mini",
			"gpt-4-turbo",
			"gpt-4",
			"gpt-3.5-turbo",
			"o1",
			"o1-mini",
			"o3-mini",
		}},
	},
	{
		ID:             Anthropic,
		DisplayName:    "Anthropic",
		Family:         FamilyAnthropic,
		DefaultModel:   "claude-3-5-sonnet-20241022",
		RequiresSecret: true,
		SecretEnv:      "ANTHROPIC_API_KEY",
		Rule: ModelRule{Kind: RuleClosedList, Models: []string{
			"claude-3-5-sonnet-20241022",
			"claude-3-5-haiku-20241022",
			"claude-3-opus-20240229",
			"claude-3-sonnet-20240229",
			"claude-3-haiku-20240307",
		}},
	},
	{
		ID:             OpenRouter,
		DisplayName:    "OpenRouter",
		Family:         FamilyOpenRouter,
		DefaultModel:   "openai/gpt-4o",
		RequiresSecret: true,
		SecretEnv:      "OPENROUTER_API_KEY",
		Rule:           ModelRule{Kind: RuleNamespaced},
	},
	{
		ID:           Ollama,
		DisplayName:  "Ollama",
		Family:       FamilyOllama,
		DefaultModel: "llama3.2",
		Rule:         ModelRule{Kind: RuleLiveLookup},
	},
}

// IDs returns the registered provider identifiers in their fixed order.
func IDs() []string {
	out := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d.ID)
	}
	return out
}

func Describe(id string) (Descriptor, error) {
	for _, d := range descriptors {
		if d.ID == id {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w %q (valid: %s)", ErrUnknownProvider, id, strings.Join(IDs(), ", "))
}

func Valid(id string) bool {
	_, err := Describe(id)
	return err == nil
}

// CheckModel applies the static part of the descriptor's model rule.
// Live-lookup rules always pass here; the backend resolves them.
func CheckModel(d Descriptor, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("%w: model is empty", ErrInvalidModel)
	}
	switch d.Rule.Kind {
	case RuleClosedList:
		for _, m := range d.Rule.Models {
			if m == model {
				return nil
			}
		}
		return fmt.Errorf("%w %q for %s. Valid models: %s", ErrInvalidModel, model, d.ID, strings.Join(d.Rule.Models, ", "))
	case RuleNamespaced:
		ns, name, ok := strings.Cut(model, "/")
		if !ok || strings.TrimSpace(ns) == "" || strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w %q for %s: expected format provider/model (e.g. %s)", ErrInvalidModel, model, d.ID, d.DefaultModel)
		}
		return nil
	case RuleLiveLookup:
		return nil
	default:
		return fmt.Errorf("%w: provider %s has no model rule", ErrInvalidModel, d.ID)
	}
}
