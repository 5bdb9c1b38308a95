package llm

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ModelInfo is the catalog entry of one model.
type ModelInfo struct {
	Name          string  `yaml:"name" json:"name"`
	ContextLength int     `yaml:"context_length" json:"context_length"`
	SupportsTools bool    `yaml:"supports_tools" json:"supports_tools"`
	PriceIn       float64 `yaml:"price_in" json:"price_in"`
	PriceOut      float64 `yaml:"price_out" json:"price_out"`
}

// Provider is the catalog entry of one chat endpoint.
type Provider struct {
	Name                 string      `yaml:"name" json:"name"`
	DisplayName          string      `yaml:"display_name" json:"display_name"`
	BaseURL              string      `yaml:"base_url" json:"base_url"`
	APIKeyEnv            string      `yaml:"api_key_env" json:"api_key_env"`
	DefaultModel         string      `yaml:"default_model" json:"default_model"`
	AllowArbitraryModels bool        `yaml:"allow_arbitrary_models" json:"allow_arbitrary_models"`
	AllowBaseURLOverride bool        `yaml:"allow_base_url_override" json:"allow_base_url_override"`
	DefaultContextLength int         `yaml:"default_context_length" json:"default_context_length,omitempty"`
	Models               []ModelInfo `yaml:"models" json:"models"`
}

// Model looks up a catalogued model.
func (p Provider) Model(name string) (ModelInfo, bool) {
	for _, m := range p.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelInfo{}, false
}

type catalogFile struct {
	Providers []Provider `yaml:"providers"`
}

func parseCatalog(raw []byte) (map[string]Provider, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}
	out := make(map[string]Provider, len(f.Providers))
	for _, p := range f.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("parse provider catalog: provider without name")
		}
		out[p.Name] = p
	}
	return out, nil
}

// Registry is the provider table. The embedded catalog is always loaded;
// an override file replaces or adds providers by name.
type Registry struct {
	mu           sync.RWMutex
	providers    map[string]Provider
	overridePath string
	customURL    string
}

type RegistryOption func(*Registry)

// WithCatalogFile merges an override catalog on top of the embedded one.
func WithCatalogFile(path string) RegistryOption {
	return func(r *Registry) { r.overridePath = path }
}

// WithCustomBaseURL sets the endpoint of the custom_openai provider.
func WithCustomBaseURL(u string) RegistryOption {
	return func(r *Registry) { r.customURL = u }
}

func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the embedded catalog and the override file.
func (r *Registry) Reload() error {
	providers, err := parseCatalog(defaultCatalog)
	if err != nil {
		return err
	}
	if r.overridePath != "" {
		raw, err := os.ReadFile(r.overridePath)
		if err != nil {
			return fmt.Errorf("read provider catalog %s: %w", r.overridePath, err)
		}
		extra, err := parseCatalog(raw)
		if err != nil {
			return err
		}
		for name, p := range extra {
			providers[name] = p
		}
	}
	if r.customURL != "" {
		if p, ok := providers["custom_openai"]; ok {
			p.BaseURL = r.customURL
			providers["custom_openai"] = p
		}
	}

	r.mu.Lock()
	r.providers = providers
	r.mu.Unlock()
	return nil
}

// Get returns the provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return Provider{}, terrors.Validation(terrors.FieldError{
			Field:  "llm_provider",
			Reason: fmt.Sprintf("unknown provider %q", name),
		})
	}
	return p, nil
}

// List returns all providers sorted by name.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolveModel returns the metadata for provider+model. An empty model
// means the provider default. Uncatalogued models are accepted only when
// the provider allows arbitrary models; they get the provider's default
// context length and are assumed to support tools.
func (r *Registry) ResolveModel(providerName, model string) (Provider, ModelInfo, error) {
	p, err := r.Get(providerName)
	if err != nil {
		return Provider{}, ModelInfo{}, err
	}
	if model == "" {
		model = p.DefaultModel
	}
	if model == "" {
		return Provider{}, ModelInfo{}, terrors.Validation(terrors.FieldError{
			Field:  "llm_model",
			Reason: fmt.Sprintf("provider %q has no default model", providerName),
		})
	}
	if m, ok := p.Model(model); ok {
		return p, m, nil
	}
	if !p.AllowArbitraryModels {
		return Provider{}, ModelInfo{}, terrors.Validation(terrors.FieldError{
			Field:  "llm_model",
			Reason: fmt.Sprintf("model %q is not offered by provider %q", model, providerName),
		})
	}
	ctxLen := p.DefaultContextLength
	if ctxLen == 0 {
		ctxLen = 32768
	}
	return p, ModelInfo{Name: model, ContextLength: ctxLen, SupportsTools: true}, nil
}
