package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	assert.Equal(t, "", Redact(""))
	assert.Equal(t, "****", Redact("short"))
	assert.Equal(t, "sk-****yz", Redact("sk-abcdefghijklmnopqrstuvwxyz"))
}

func TestInitWritesToLogDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(Options{Level: "debug", Dir: dir}))
	t.Cleanup(func() { Set(nil) })

	Named("test").Infow("hello", "run_id", "r1")
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, "tradingagents.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
