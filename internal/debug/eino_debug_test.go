package debug

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/TradingAgentsGo/config"
)

func TestDisabledDebuggerIsNoop(t *testing.T) {
	d := NewEinoDebugger(config.DebugConfig{EinoDebugPort: 52538}, nil)
	called := false
	d.init = func(context.Context) error { called = true; return nil }

	require.NoError(t, d.Initialize(context.Background()))
	assert.False(t, called)
	assert.False(t, d.IsEnabled())
	assert.Empty(t, d.GetDebugURL())
}

func TestEnabledDebugger(t *testing.T) {
	d := NewEinoDebugger(config.DebugConfig{EinoDebugEnabled: true, EinoDebugPort: 52538}, nil)
	d.init = func(context.Context) error { return errors.New("port in use") }

	err := d.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port in use")
	assert.Equal(t, "http://localhost:52538", d.GetDebugURL())
}
