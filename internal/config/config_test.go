package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Board.MaxActivePosts)
	assert.Equal(t, []string{"admin"}, cfg.Board.PrivilegedRoles)
	assert.Equal(t, config.ProviderMemory, cfg.Storage.Provider)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay())
	assert.Equal(t, 15*time.Second, cfg.Storage.Timeout())
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
board:
  max_active_posts: 10
storage:
  provider: github
  github:
    owner: acme
    repo: board-data
notify:
  webhooks:
    - url: https://hooks.example.com/bulletin
      events: [post.submitted]
`))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Board.MaxActivePosts)
	assert.Equal(t, []string{"admin"}, cfg.Board.PrivilegedRoles)
	assert.Equal(t, "main", cfg.Storage.GitHub.Branch)
	assert.Equal(t, "https://api.github.com", cfg.Storage.GitHub.APIURL)
	require.Len(t, cfg.Notify.Webhooks, 1)
	assert.True(t, cfg.Notify.Webhooks[0].IsEnabled())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown provider":   "storage:\n  provider: ftp\n",
		"github owner":       "storage:\n  provider: github\n",
		"zero ceiling":       "board:\n  max_active_posts: -1\n",
		"retry attempts":     "retry:\n  attempts: 50\n",
		"max below base":     "retry:\n  base_delay_ms: 500\n  max_delay_ms: 100\n",
		"webhook url":        "notify:\n  webhooks:\n    - url: not a url\n",
		"webhook event":      "notify:\n  webhooks:\n    - url: https://x.example.com\n      events: [post.deleted]\n",
		"log format":         "log:\n  format: xml\n",
		"blobstore path":     "storage:\n  provider: blobstore\n  blobstore:\n    path: \"\"\n",
		"objectstore root":   "storage:\n  provider: objectstore\n  objectstore:\n    root: \"\"\n",
		"malformed document": "board: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = config.Load(dir)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bulletin.yml"), []byte(config.GenerateDefault()), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, config.ProviderMemory, cfg.Storage.Provider)
}
