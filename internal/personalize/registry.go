package personalize

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sandboxnotify/internal/types"
)

//go:embed registry.yaml
var defaultRegistryYAML []byte

// registryFile is the YAML document shape for a template registry.
type registryFile struct {
	Templates map[string]registryEntry `yaml:"templates"`
}

type registryEntry struct {
	EmailTemplateID   string   `yaml:"emailTemplateId"`
	CredentialRef     string   `yaml:"credentialRef"`
	RequiredFields    []string `yaml:"requiredFields"`
	OptionalFields    []string `yaml:"optionalFields"`
	EnrichmentQueries []string `yaml:"enrichmentQueries"`
}

// Registry resolves event types to their template contracts. It is built
// once at cold start and read-only afterwards.
type Registry struct {
	configs map[types.EventType]types.TemplateConfig
}

// LoadRegistry parses the embedded default registry, or the YAML document at
// path when one is given. Every entry is validated at load time so that a
// bad registry fails the cold start instead of the first event.
func LoadRegistry(path string) (*Registry, error) {
	raw := defaultRegistryYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("registry: failed to read %s: %w", path, err)
		}
		raw = b
	}
	return parseRegistry(raw)
}

func parseRegistry(raw []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("registry: failed to parse registry document: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, fmt.Errorf("registry: no templates defined")
	}

	configs := make(map[types.EventType]types.TemplateConfig, len(file.Templates))
	for name, entry := range file.Templates {
		et, ok := types.ParseEventType(name)
		if !ok {
			return nil, fmt.Errorf("registry: unknown event type %q", name)
		}
		queries := make([]types.EnrichmentQuery, 0, len(entry.EnrichmentQueries))
		for _, q := range entry.EnrichmentQueries {
			query, ok := types.ParseEnrichmentQuery(q)
			if !ok {
				return nil, fmt.Errorf("registry: unknown enrichment query %q under %s", q, name)
			}
			queries = append(queries, query)
		}
		configs[et] = types.TemplateConfig{
			EventType:         et,
			EmailTemplateID:   entry.EmailTemplateID,
			CredentialRef:     entry.CredentialRef,
			RequiredFields:    entry.RequiredFields,
			OptionalFields:    entry.OptionalFields,
			EnrichmentQueries: queries,
		}
	}
	return &Registry{configs: configs}, nil
}

// Lookup returns the template contract for an event type. A missing entry is
// Permanent: an event type nobody registered cannot be delivered on retry
// either.
func (r *Registry) Lookup(eventType types.EventType) (types.TemplateConfig, error) {
	cfg, ok := r.configs[eventType]
	if !ok {
		return types.TemplateConfig{}, types.NewError(types.KindPermanent, types.ErrCodeTemplateNotRegistered,
			fmt.Sprintf("no template registered for event type %q", eventType), nil)
	}
	return cfg, nil
}

// EventTypes returns the registered event types in no particular order.
func (r *Registry) EventTypes() []types.EventType {
	out := make([]types.EventType, 0, len(r.configs))
	for et := range r.configs {
		out = append(out, et)
	}
	return out
}
