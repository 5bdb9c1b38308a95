package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/TradingAgentsGo/config"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

// Options selects and tunes one chat model.
type Options struct {
	Provider       string
	Model          string
	Temperature    float32
	MaxTokens      int
	APIKey         string
	BaseURL        string
	Timeout        time.Duration
	Retry          RetryPolicy
	RequestsPerMin int
}

// ModelFactory builds the raw chat model for a resolved provider.
type ModelFactory func(ctx context.Context, p Provider, m ModelInfo, opts Options) (model.ToolCallingChatModel, error)

// Factory turns provider+model selections into ready Clients.
type Factory struct {
	registry *Registry
	ledger   *UsageLedger
	defaults config.LLMConfig
	build    ModelFactory
	getenv   func(string) string
}

type FactoryOption func(*Factory)

// WithModelFactory replaces the eino-ext model constructors.
func WithModelFactory(fn ModelFactory) FactoryOption {
	return func(f *Factory) { f.build = fn }
}

// WithGetenv replaces the environment lookup used for API keys.
func WithGetenv(fn func(string) string) FactoryOption {
	return func(f *Factory) { f.getenv = fn }
}

func NewFactory(reg *Registry, ledger *UsageLedger, cfg config.LLMConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		registry: reg,
		ledger:   ledger,
		defaults: cfg,
		build:    defaultModelFactory,
		getenv:   os.Getenv,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) Registry() *Registry  { return f.registry }
func (f *Factory) Ledger() *UsageLedger { return f.ledger }

// Check validates a provider/model pair without building anything.
func (f *Factory) Check(provider, modelName string) error {
	_, _, err := f.registry.ResolveModel(provider, modelName)
	return err
}

func (f *Factory) fill(opts Options) Options {
	if opts.Provider == "" {
		opts.Provider = f.defaults.DefaultProvider
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = f.defaults.MaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = f.defaults.Temperature
	}
	if opts.Timeout <= 0 {
		opts.Timeout = f.defaults.Timeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = RetryPolicy{
			MaxAttempts: f.defaults.MaxAttempts,
			Base:        f.defaults.RetryBase,
			Cap:         f.defaults.RetryCap,
		}
	}
	if opts.RequestsPerMin <= 0 {
		opts.RequestsPerMin = f.defaults.RequestsPerMin
	}
	return opts
}

// MakeLLM resolves the selection against the catalog, reads the provider
// key from the environment and returns a Client.
func (f *Factory) MakeLLM(ctx context.Context, opts Options) (*Client, error) {
	opts = f.fill(opts)
	p, info, err := f.registry.ResolveModel(opts.Provider, opts.Model)
	if err != nil {
		return nil, err
	}
	opts.Model = info.Name

	if opts.BaseURL != "" {
		if !p.AllowBaseURLOverride {
			return nil, terrors.Validation(terrors.FieldError{
				Field:  "base_url",
				Reason: fmt.Sprintf("provider %q does not accept a custom endpoint", p.Name),
			})
		}
		p.BaseURL = opts.BaseURL
	}
	if p.BaseURL == "" {
		return nil, terrors.Validation(terrors.FieldError{
			Field:  "base_url",
			Reason: fmt.Sprintf("provider %q has no endpoint configured", p.Name),
		})
	}

	if opts.APIKey == "" && p.APIKeyEnv != "" {
		opts.APIKey = f.getenv(p.APIKeyEnv)
	}
	if opts.APIKey == "" {
		return nil, terrors.Validation(terrors.FieldError{
			Field:  "llm_provider",
			Reason: fmt.Sprintf("%s is not set", p.APIKeyEnv),
		}).WithSuggestion("export " + p.APIKeyEnv + " or pick another provider")
	}

	if opts.MaxTokens >= info.ContextLength && info.ContextLength > 0 {
		opts.MaxTokens = info.ContextLength / 4
	}

	cm, err := f.build(ctx, p, info, opts)
	if err != nil {
		return nil, terrors.Provider(err, "create %s/%s chat model", p.Name, info.Name)
	}
	return NewClient(cm, p, info, opts, f.ledger), nil
}

func defaultModelFactory(ctx context.Context, p Provider, m ModelInfo, opts Options) (model.ToolCallingChatModel, error) {
	var (
		cm  model.BaseChatModel
		err error
	)
	switch p.Name {
	case "deepseek":
		cm, err = deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:      opts.APIKey,
			BaseURL:     p.BaseURL,
			Model:       m.Name,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
			Timeout:     opts.Timeout,
		})
	default:
		maxTokens := opts.MaxTokens
		temperature := opts.Temperature
		cm, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      opts.APIKey,
			BaseURL:     p.BaseURL,
			Model:       m.Name,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
			Timeout:     opts.Timeout,
		})
	}
	if err != nil {
		return nil, err
	}
	if tc, ok := cm.(model.ToolCallingChatModel); ok {
		return tc, nil
	}
	return &toolOptionModel{base: cm}, nil
}

// toolOptionModel binds tools per call for models that only accept them
// as a generate option.
type toolOptionModel struct {
	base  model.BaseChatModel
	tools []*schema.ToolInfo
}

func (t *toolOptionModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if len(t.tools) > 0 {
		opts = append([]model.Option{model.WithTools(t.tools)}, opts...)
	}
	return t.base.Generate(ctx, in, opts...)
}

func (t *toolOptionModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if len(t.tools) > 0 {
		opts = append([]model.Option{model.WithTools(t.tools)}, opts...)
	}
	return t.base.Stream(ctx, in, opts...)
}

func (t *toolOptionModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return &toolOptionModel{base: t.base, tools: tools}, nil
}
