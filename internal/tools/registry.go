package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"

	"github.com/dyike/TradingAgentsGo/internal/llm"
	"github.com/dyike/TradingAgentsGo/internal/metrics"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

// MaxOutputBytes bounds a tool result placed into a prompt.
const MaxOutputBytes = 16 * 1024

const truncatedSuffix = "\n...[output truncated]"

// Handler runs a tool on raw JSON arguments.
type Handler func(ctx context.Context, argsJSON string) (string, error)

// Tool is one named capability exposed to agents.
type Tool struct {
	Info       *schema.ToolInfo
	AllowedFor []string
	Handler    Handler
}

func (t *Tool) Name() string { return t.Info.Name }

func (t *Tool) allowed(role string) bool {
	if len(t.AllowedFor) == 0 {
		return true
	}
	for _, r := range t.AllowedFor {
		if r == role {
			return true
		}
	}
	return false
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Typed builds a Handler that decodes and validates arguments into T.
func Typed[T any](fn func(ctx context.Context, in T) (string, error)) Handler {
	return func(ctx context.Context, argsJSON string) (string, error) {
		var in T
		if strings.TrimSpace(argsJSON) == "" {
			argsJSON = "{}"
		}
		if err := json.Unmarshal([]byte(argsJSON), &in); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if err := validate.Struct(in); err != nil {
			return "", fmt.Errorf("invalid arguments: %s", describeValidation(err))
		}
		return fn(ctx, in)
	}
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// Registry is the catalog of tools. Invoke is the only way tools run.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	audit *AuditLog
	log   *logger.Logger
}

func NewRegistry(audit *AuditLog) *Registry {
	if audit == nil {
		audit = NewAuditLog()
	}
	return &Registry{
		tools: make(map[string]*Tool),
		audit: audit,
		log:   logger.Named("tools"),
	}
}

// Register adds or replaces a tool under its name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Info.Name] = t
}

func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Audit() *AuditLog { return r.audit }

// Infos returns the schemas of the named tools that role may call, in the
// given order. Unknown or forbidden names are skipped.
func (r *Registry) Infos(role string, names []string) []*schema.ToolInfo {
	var out []*schema.ToolInfo
	for _, n := range names {
		if t, ok := r.Get(n); ok && t.allowed(role) {
			out = append(out, t.Info)
		}
	}
	return out
}

// For returns eino tools bound to role. Calls made through them go through
// Invoke.
func (r *Registry) For(role string, names []string) []tool.InvokableTool {
	var out []tool.InvokableTool
	for _, info := range r.Infos(role, names) {
		out = append(out, &boundTool{reg: r, role: role, info: info})
	}
	return out
}

// Invoke runs the named tool for role. Failures come back as a
// "tool_error: ..." string so the model can keep reasoning; the error is
// returned as well for the caller's bookkeeping.
func (r *Registry) Invoke(ctx context.Context, role, name, argsJSON string) (string, error) {
	start := time.Now()
	entry := models.ToolAudit{
		Time:  start.UTC(),
		RunID: llm.RunIDFrom(ctx),
		Role:  role,
		Tool:  name,
		Args:  compactArgs(argsJSON),
	}

	out, err := r.invoke(ctx, role, name, argsJSON)
	entry.Duration = time.Since(start).Milliseconds()
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
		out = "tool_error: " + err.Error()
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		r.log.Warnw("tool failed", "run_id", entry.RunID, "role", role, "tool", name, "error", err)
	} else {
		entry.Status = "ok"
		metrics.ToolCalls.WithLabelValues(name, "success").Inc()
		r.log.Debugw("tool called", "run_id", entry.RunID, "role", role, "tool", name, "chars", len(out))
	}
	out = Compact(out)
	entry.Chars = len(out)
	r.audit.Append(entry)

	if err != nil {
		return out, terrors.Tool(err, "%s failed", name)
	}
	return out, nil
}

func (r *Registry) invoke(ctx context.Context, role, name, argsJSON string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	if !t.allowed(role) {
		return "", fmt.Errorf("tool %q is not available to %s", name, role)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.Handler(ctx, argsJSON)
}

// Compact trims trailing whitespace, squeezes blank-line runs and caps the
// result at MaxOutputBytes without splitting a UTF-8 sequence.
func Compact(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	s = strings.TrimSpace(strings.Join(out, "\n"))
	if len(s) <= MaxOutputBytes {
		return s
	}
	cut := MaxOutputBytes - len(truncatedSuffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedSuffix
}

func compactArgs(args string) string {
	var v any
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return strings.TrimSpace(args)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return args
	}
	return string(b)
}

type boundTool struct {
	reg  *Registry
	role string
	info *schema.ToolInfo
}

func (b *boundTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return b.info, nil
}

func (b *boundTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	out, _ := b.reg.Invoke(ctx, b.role, b.info.Name, argumentsInJSON)
	return out, nil
}
