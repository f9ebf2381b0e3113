package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Defaults()

	assert.Equal(t, 3, c.Queue.MaxAttempts)
	assert.Equal(t, 20000, c.Security.MaxInputLength)
	assert.Contains(t, c.Security.DenyList, "ignore previous instructions")
	assert.Equal(t, 10, c.Assembler.HistoryLimit)
	assert.Equal(t, 2*time.Minute, c.Queue.LeaseDuration())
	assert.ElementsMatch(t, []string{"calculator", "generate_image", "search_web", "read_web_page"}, c.Tools.Enabled)
}

func TestInit_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
queue:
  max_attempts: 5
worker:
  concurrency: 8
security:
  deny_list: ["foo bar"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	Init(path)

	assert.Equal(t, 5, Conf.Queue.MaxAttempts)
	assert.Equal(t, 8, Conf.Worker.Concurrency)
	assert.Equal(t, []string{"foo bar"}, Conf.Security.DenyList)
	// 未覆盖的键保留默认值
	assert.Equal(t, 120, Conf.Queue.LeaseSeconds)
}

func TestInit_MissingFilePanics(t *testing.T) {
	assert.Panics(t, func() { Init(filepath.Join(t.TempDir(), "nope.yaml")) })
}
