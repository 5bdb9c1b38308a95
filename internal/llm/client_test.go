package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/TradingAgentsGo/config"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

// scriptedModel replays errs then answers with reply.
type scriptedModel struct {
	mu     sync.Mutex
	errs   []error
	reply  *schema.Message
	calls  int
	inputs [][]*schema.Message
	tools  []*schema.ToolInfo
	block  bool
}

func (m *scriptedModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls++
	m.inputs = append(m.inputs, in)
	var err error
	if len(m.errs) > 0 {
		err, m.errs = m.errs[0], m.errs[1:]
	}
	block := m.block
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return m.reply, nil
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	m.tools = tools
	m.mu.Unlock()
	return m, nil
}

func withUsage(content string, in, out int) *schema.Message {
	msg := schema.AssistantMessage(content, nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}}
	return msg
}

func testClient(cm model.ToolCallingChatModel, info ModelInfo) (*Client, *[]time.Duration) {
	c := NewClient(cm, Provider{Name: "openai"}, info, Options{MaxTokens: 100, Timeout: time.Second}, NewUsageLedger(nil))
	var waits []time.Duration
	c.SetSleep(func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	})
	return c, &waits
}

var gpt4o = ModelInfo{Name: "gpt-4o", ContextLength: 128000, SupportsTools: true, PriceIn: 0.0025, PriceOut: 0.01}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 32*time.Second, p.Delay(5))
	assert.Equal(t, 60*time.Second, p.Delay(6))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.New("error, status code: 429, message: rate limit")))
	assert.True(t, Retryable(errors.New("status code: 503 service unavailable")))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(errors.New("read tcp: connection reset by peer")))
	assert.True(t, Retryable(errors.New("502 bad gateway")))
	assert.True(t, Retryable(errors.New("unexpected EOF")))
	assert.False(t, Retryable(errors.New("status code: 401, invalid api key")))

	// Digits inside a 4xx message are not a status code.
	for _, msg := range []string{
		"error, status code: 400, message: max_tokens 4500 is too large",
		"This model's maximum context length is 65000 tokens",
		"status code: 401, message: Incorrect API key provided: sk-****1500",
		"invalid request: geoffrey is not a model",
	} {
		assert.False(t, Retryable(errors.New(msg)), msg)
	}
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(nil))
}

func TestGenerateRecordsUsage(t *testing.T) {
	cm := &scriptedModel{reply: withUsage("hello", 1000, 500)}
	c, _ := testClient(cm, gpt4o)
	ctx := WithRole(WithRun(context.Background(), "run-1"), "market_analyst")

	tools := []*schema.ToolInfo{{Name: "get_stock_market_data_unified", Desc: "bars"}}
	reply, err := c.Generate(ctx, []*schema.Message{schema.UserMessage("hi")}, tools, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", reply.Message.Content)
	assert.Equal(t, 1, reply.Attempts)
	assert.Len(t, cm.tools, 1)

	assert.Equal(t, 1000, reply.Usage.InputTokens)
	assert.Equal(t, 500, reply.Usage.OutputTokens)
	assert.InDelta(t, 0.0075, reply.Usage.Cost, 1e-12)
	assert.False(t, reply.Usage.Estimated)

	recs := c.Ledger().Records("run-1")
	require.Len(t, recs, 1)
	assert.Equal(t, "market_analyst", recs[0].Role)
	assert.Equal(t, "gpt-4o", recs[0].Model)
}

func TestGenerateEstimatesMissingUsage(t *testing.T) {
	cm := &scriptedModel{reply: schema.AssistantMessage(strings.Repeat("x", 400), nil)}
	c, _ := testClient(cm, gpt4o)

	reply, err := c.Generate(context.Background(), []*schema.Message{schema.UserMessage(strings.Repeat("y", 40))}, nil, nil)
	require.NoError(t, err)
	assert.True(t, reply.Usage.Estimated)
	assert.Equal(t, 14, reply.Usage.InputTokens)
	assert.Equal(t, 104, reply.Usage.OutputTokens)
	assert.Positive(t, reply.Usage.Cost)
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	cm := &scriptedModel{
		errs:  []error{errors.New("status code: 429"), errors.New("502 bad gateway")},
		reply: withUsage("ok", 1, 1),
	}
	c, waits := testClient(cm, gpt4o)

	reply, err := c.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, reply.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *waits)
}

func TestGenerateGivesUpOnPermanentError(t *testing.T) {
	cm := &scriptedModel{errs: []error{errors.New("status code: 401 invalid api key")}}
	c, waits := testClient(cm, gpt4o)
	ctx := WithRun(context.Background(), "run-2")

	_, err := c.Generate(ctx, []*schema.Message{schema.UserMessage("hi")}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, terrors.CodeProvider, terrors.CodeOf(err))
	assert.Equal(t, 1, cm.calls)
	assert.Empty(t, *waits)

	recs := c.Ledger().Records("run-2")
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Failed)
	assert.Zero(t, recs[0].Cost)
}

func TestGenerateExhaustsRetries(t *testing.T) {
	errs := make([]error, 5)
	for i := range errs {
		errs[i] = errors.New("503 service unavailable")
	}
	cm := &scriptedModel{errs: errs}
	c, waits := testClient(cm, gpt4o)

	_, err := c.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 5, cm.calls)
	assert.Len(t, *waits, 4)
}

func TestGenerateCancelled(t *testing.T) {
	cm := &scriptedModel{block: true}
	c, _ := testClient(cm, gpt4o)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Generate(ctx, []*schema.Message{schema.UserMessage("hi")}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, terrors.CodeCancelled, terrors.CodeOf(err))
}

func TestGenerateDropsToolsWhenUnsupported(t *testing.T) {
	cm := &scriptedModel{reply: withUsage("ok", 1, 1)}
	c, _ := testClient(cm, ModelInfo{Name: "ernie-speed-128k", ContextLength: 131072})

	_, err := c.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")},
		[]*schema.ToolInfo{{Name: "t"}}, nil)
	require.NoError(t, err)
	assert.Nil(t, cm.tools)
}

func TestGenerateTruncatesLongHistory(t *testing.T) {
	cm := &scriptedModel{reply: withUsage("ok", 1, 1)}
	c, _ := testClient(cm, ModelInfo{Name: "small", ContextLength: 1000})

	long := strings.Repeat("a", 800)
	msgs := []*schema.Message{schema.SystemMessage("system")}
	for i := 0; i < 10; i++ {
		msgs = append(msgs, schema.UserMessage(long), schema.AssistantMessage(long, nil))
	}
	msgs = append(msgs, schema.UserMessage("latest question"))

	reply, err := c.Generate(context.Background(), msgs, nil, nil)
	require.NoError(t, err)
	assert.True(t, reply.Truncated)

	sent := cm.inputs[0]
	assert.Equal(t, schema.System, sent[0].Role)
	assert.Equal(t, "latest question", sent[len(sent)-1].Content)
	assert.LessOrEqual(t, EstimateTokens(sent), 1000-100-safetyMargin)
}

func TestTruncateKeepsToolPairs(t *testing.T) {
	call := schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "t", Arguments: "{}"}}})
	msgs := []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage(strings.Repeat("u", 400)),
		call,
		schema.ToolMessage(strings.Repeat("r", 400), "c1"),
		schema.UserMessage("now"),
	}
	out, truncated := Truncate(msgs, 20)
	assert.True(t, truncated)
	for _, m := range out {
		assert.NotEqual(t, schema.Tool, m.Role)
	}
	assert.Equal(t, "now", out[len(out)-1].Content)

	same, truncated := Truncate(msgs, 0)
	assert.False(t, truncated)
	assert.Len(t, same, len(msgs))
}

func TestFactoryMakeLLM(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	var built, keys []string
	env := map[string]string{"OPENAI_API_KEY": "sk-test"}
	f := NewFactory(reg, NewUsageLedger(nil), config.LLMConfig{MaxTokens: 2048, MaxAttempts: 3, RetryBase: time.Second, RetryCap: 10 * time.Second},
		WithGetenv(func(k string) string { return env[k] }),
		WithModelFactory(func(ctx context.Context, p Provider, m ModelInfo, opts Options) (model.ToolCallingChatModel, error) {
			built = append(built, p.Name+"/"+m.Name+"@"+p.BaseURL)
			keys = append(keys, opts.APIKey)
			return &scriptedModel{}, nil
		}))

	c, err := f.MakeLLM(context.Background(), Options{Provider: "openai", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", c.String())
	assert.Equal(t, []string{"openai/gpt-4o@https://api.openai.com/v1"}, built)
	assert.Equal(t, []string{"sk-test"}, keys)

	_, err = f.MakeLLM(context.Background(), Options{Provider: "deepseek"})
	de, ok := terrors.As(err)
	require.True(t, ok)
	assert.Equal(t, terrors.CodeValidation, de.Code)
	assert.Contains(t, de.Error(), "DEEPSEEK_API_KEY")

	_, err = f.MakeLLM(context.Background(), Options{Provider: "openai", BaseURL: "http://evil.example.com"})
	de, ok = terrors.As(err)
	require.True(t, ok)
	assert.True(t, de.HasField("base_url"))

	env["CUSTOM_OPENAI_API_KEY"] = "k"
	_, err = f.MakeLLM(context.Background(), Options{Provider: "custom_openai", Model: "qwen-local", BaseURL: "http://localhost:8000/v1"})
	require.NoError(t, err)
	assert.Equal(t, "custom_openai/qwen-local@http://localhost:8000/v1", built[len(built)-1])
	assert.Equal(t, "k", keys[len(keys)-1])

	assert.NoError(t, f.Check("openai", "gpt-4o-mini"))
	assert.Error(t, f.Check("openai", "bogus"))
}
