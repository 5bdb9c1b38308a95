package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dyike/TradingAgentsGo/config"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

type Option func(*Runtime)

// WithNotifier receives settings.applied and settings.apply_failed events.
func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

// Runtime keeps an Engine in step with the watched settings file.
type Runtime struct {
	cfgMgr  *config.Manager
	engine  *Engine
	version atomic.Uint64

	notify func(string, string)
	cancel context.CancelFunc
	log    *logger.Logger
}

func NewRuntime(engine *Engine, cfgMgr *config.Manager, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	rt := &Runtime{
		cfgMgr: cfgMgr,
		engine: engine,
		log:    logger.Named("runtime"),
	}
	for _, opt := range opts {
		opt(rt)
	}

	if err := rt.apply(cfgMgr.Get()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	if err := cfgMgr.Watch(ctx, func(s config.Settings) {
		if err := rt.apply(s); err != nil {
			rt.log.Warnw("settings apply failed", "error", err)
		}
	}); err != nil {
		cancel()
		return nil, err
	}

	if path := engine.Config.LLM.CatalogPath; path != "" {
		err := config.WatchFile(ctx, path, 300*time.Millisecond, func() {
			if err := engine.Providers.Reload(); err != nil {
				rt.log.Warnw("provider catalog reload failed", "path", path, "error", err)
				return
			}
			rt.log.Infow("provider catalog reloaded", "path", path)
		})
		if err != nil {
			cancel()
			return nil, err
		}
	}
	return rt, nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine
}

func (r *Runtime) Settings() config.Settings {
	return r.cfgMgr.Get()
}

// Version counts successful applications, starting at 1.
func (r *Runtime) Version() uint64 {
	return r.version.Load()
}

func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

// UpdateConfigJSON persists new settings; the change applies immediately.
func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.UpdateFromJSON(jsonStr)
}

func (r *Runtime) apply(s config.Settings) error {
	if err := s.Validate(); err != nil {
		r.notifyFailure(err)
		return err
	}
	if err := r.engine.Providers.Reload(); err != nil {
		err = fmt.Errorf("reload provider catalog: %w", err)
		r.notifyFailure(err)
		return err
	}
	r.engine.Runner.ApplySettings(s)
	if ttls := s.TTLs(); len(ttls) > 0 {
		r.engine.Cache.SetTTLs(ttls)
	}
	v := r.version.Add(1)
	r.notifySuccess(v)
	return nil
}

func (r *Runtime) notifySuccess(version uint64) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"version":    version,
		"applied_at": time.Now().UTC().Format(time.RFC3339),
	})
	r.notify("settings.applied", string(payload))
}

func (r *Runtime) notifyFailure(err error) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	r.notify("settings.apply_failed", string(payload))
}
