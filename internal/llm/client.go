package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/dyike/TradingAgentsGo/internal/metrics"
	"github.com/dyike/TradingAgentsGo/internal/trace"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

// RetryPolicy is the backoff applied to retryable provider errors.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// DefaultRetryPolicy is 5 attempts starting at 2s, capped at 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Base: 2 * time.Second, Cap: 60 * time.Second}
}

// Delay returns the wait before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	d := p.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Reply is the outcome of one Generate call.
type Reply struct {
	Message   *schema.Message
	Usage     models.TokenUsage
	Truncated bool
	Attempts  int
}

// Client wraps a chat model with truncation, retries and usage accounting.
type Client struct {
	model     model.ToolCallingChatModel
	provider  Provider
	info      ModelInfo
	maxTokens int
	timeout   time.Duration
	retry     RetryPolicy
	limiter   *rate.Limiter
	ledger    *UsageLedger
	sleep     func(ctx context.Context, d time.Duration) error
	log       *logger.Logger
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewClient wraps cm. Zero values in the policy fields fall back to the
// defaults.
func NewClient(cm model.ToolCallingChatModel, p Provider, info ModelInfo, opts Options, ledger *UsageLedger) *Client {
	c := &Client{
		model:     cm,
		provider:  p,
		info:      info,
		maxTokens: opts.MaxTokens,
		timeout:   opts.Timeout,
		retry:     opts.Retry,
		ledger:    ledger,
		sleep:     sleepCtx,
		log:       logger.Named("llm").With("provider", p.Name, "model", info.Name),
	}
	if c.timeout <= 0 {
		c.timeout = 120 * time.Second
	}
	if c.retry.MaxAttempts <= 0 {
		c.retry = DefaultRetryPolicy()
	}
	if opts.RequestsPerMin > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMin)/60.0), 1)
	}
	if c.ledger == nil {
		c.ledger = NewUsageLedger(nil)
	}
	return c
}

// SetSleep replaces the backoff wait. Used by tests.
func (c *Client) SetSleep(fn func(ctx context.Context, d time.Duration) error) { c.sleep = fn }

func (c *Client) Provider() Provider { return c.provider }
func (c *Client) Model() ModelInfo   { return c.info }
func (c *Client) Ledger() *UsageLedger {
	return c.ledger
}

// SupportsTools reports whether tool schemas may be bound.
func (c *Client) SupportsTools() bool { return c.info.SupportsTools }

func (c *Client) budget() int {
	if c.info.ContextLength <= 0 {
		return 0
	}
	return c.info.ContextLength - c.maxTokens - safetyMargin
}

// Generate sends messages to the model. Older history is dropped when the
// prompt would not fit the context window. Every call, failed or not,
// leaves one usage record tagged with the run and role found in ctx.
func (c *Client) Generate(ctx context.Context, messages []*schema.Message, tools []*schema.ToolInfo, stop []string) (*Reply, error) {
	role := RoleFrom(ctx)
	ctx, span := trace.StartSpan(ctx, "llm.generate",
		attribute.String("provider", c.provider.Name),
		attribute.String("model", c.info.Name),
		attribute.String("role", role))

	msgs, truncated := Truncate(messages, c.budget())
	if truncated {
		c.log.Infow("prompt truncated", "role", role, "messages", len(messages), "kept", len(msgs))
	}

	cm := c.model
	if len(tools) > 0 {
		if !c.info.SupportsTools {
			c.log.Warnw("model does not support tools, calling without them", "role", role)
		} else {
			bound, err := c.model.WithTools(tools)
			if err != nil {
				trace.End(span, err)
				return nil, terrors.Provider(err, "bind tools for %s/%s", c.provider.Name, c.info.Name)
			}
			cm = bound
		}
	}
	var opts []model.Option
	if len(stop) > 0 {
		opts = append(opts, model.WithStop(stop))
	}

	start := time.Now()
	resp, attempts, err := c.generateWithRetry(ctx, cm, msgs, opts)
	latency := time.Since(start)
	metrics.LLMLatency.WithLabelValues(c.provider.Name, c.info.Name).Observe(latency.Seconds())

	usage := c.usage(ctx, role, msgs, resp, err)
	c.ledger.Record(ctx, usage)
	c.observe(role, usage, err)

	if err != nil {
		trace.End(span, err)
		if ctx.Err() != nil {
			return nil, terrors.Wrap(ctx.Err(), terrors.CodeCancelled, "llm call cancelled")
		}
		return nil, terrors.Provider(err, "%s/%s failed after %d attempts", c.provider.Name, c.info.Name, attempts)
	}
	trace.End(span, nil)
	return &Reply{Message: resp, Usage: usage, Truncated: truncated, Attempts: attempts}, nil
}

func (c *Client) generateWithRetry(ctx context.Context, cm model.ToolCallingChatModel, msgs []*schema.Message, opts []model.Option) (*schema.Message, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, attempt, err
			}
		}
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := cm.Generate(cctx, msgs, opts...)
		cancel()
		if err == nil {
			if resp == nil {
				return nil, attempt, errors.New("empty response")
			}
			return resp, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil || !Retryable(err) || attempt == c.retry.MaxAttempts {
			return nil, attempt, lastErr
		}

		delay := c.retry.Delay(attempt)
		c.log.Warnw("llm call failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		metrics.LLMCalls.WithLabelValues(c.provider.Name, c.info.Name, RoleFrom(ctx), "retry").Inc()
		if err := c.sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}
	return nil, c.retry.MaxAttempts, lastErr
}

func (c *Client) usage(ctx context.Context, role string, msgs []*schema.Message, resp *schema.Message, err error) models.TokenUsage {
	u := models.TokenUsage{
		Provider:  c.provider.Name,
		Model:     c.info.Name,
		RunID:     RunIDFrom(ctx),
		Role:      role,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		u.Failed = true
		return u
	}
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		u.InputTokens = resp.ResponseMeta.Usage.PromptTokens
		u.OutputTokens = resp.ResponseMeta.Usage.CompletionTokens
	}
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		u.InputTokens = EstimateTokens(msgs)
		u.OutputTokens = EstimateTokens([]*schema.Message{resp})
		u.Estimated = true
	}
	u.Cost = EstimateCost(c.info, u.InputTokens, u.OutputTokens)
	return u
}

func (c *Client) observe(role string, u models.TokenUsage, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMCalls.WithLabelValues(c.provider.Name, c.info.Name, role, status).Inc()
	metrics.LLMTokens.WithLabelValues(c.provider.Name, c.info.Name, "input").Add(float64(u.InputTokens))
	metrics.LLMTokens.WithLabelValues(c.provider.Name, c.info.Name, "output").Add(float64(u.OutputTokens))
	if u.Cost > 0 {
		metrics.LLMCost.WithLabelValues(c.provider.Name, c.info.Name).Add(u.Cost)
	}
}

var (
	statusCodeRe = regexp.MustCompile(`(?i)\b(?:status(?:\s*code)?|http)\s*[:=]?\s*(\d{3})\b`)
	transientRe  = regexp.MustCompile(`(?i)\b(?:rate limit(?:ed)?|too many requests|internal server error|bad gateway|service unavailable|gateway timeout|connection reset|connection refused|unexpected eof|eof|i/o timeout|timeout|temporarily unavailable)\b`)
)

// Retryable reports whether err is a network failure, a timeout, a rate
// limit or a server-side error. When the provider reports an HTTP status,
// only 429 and 5xx are retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	if m := statusCodeRe.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
	}
	return transientRe.MatchString(msg)
}

// String is used in logs; it never includes credentials.
func (c *Client) String() string {
	return fmt.Sprintf("%s/%s", c.provider.Name, c.info.Name)
}
