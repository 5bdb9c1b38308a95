package debug

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/devops"

	"github.com/dyike/TradingAgentsGo/config"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

// EinoDebugger starts the eino visual debug server. It must be initialized
// before the analysis graph is compiled so the graph gets registered.
type EinoDebugger struct {
	config config.DebugConfig
	log    *logger.Logger
	init   func(ctx context.Context) error
}

func NewEinoDebugger(cfg config.DebugConfig, log *logger.Logger) *EinoDebugger {
	if log == nil {
		log = logger.Nop()
	}
	return &EinoDebugger{
		config: cfg,
		log:    log.Named("eino_debug"),
		init: func(ctx context.Context) error {
			return devops.Init(ctx)
		},
	}
}

func (d *EinoDebugger) Initialize(ctx context.Context) error {
	if !d.config.EinoDebugEnabled {
		return nil
	}
	d.log.Infow("initializing eino visual debug plugin", "port", d.config.EinoDebugPort)
	if err := d.init(ctx); err != nil {
		return fmt.Errorf("failed to initialize Eino debug plugin: %w", err)
	}
	d.log.Infow("eino debug server ready", "url", d.GetDebugURL())
	return nil
}

func (d *EinoDebugger) IsEnabled() bool {
	return d.config.EinoDebugEnabled
}

func (d *EinoDebugger) GetDebugURL() string {
	if !d.config.EinoDebugEnabled {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", d.config.EinoDebugPort)
}
