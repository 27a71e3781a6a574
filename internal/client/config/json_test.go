package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	t.Setenv("MEMOVAULT_CONFIG", "")

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"remote_type":        "s3",
		"s3_bucket":          "vault",
		"remote_timeout":     "10s",
		"queue_base_backoff": 500000000,
		"queue_max_retries":  7,
		"auto_sync_schedule": "@every 5m",
	})

	t.Run("loads from flags and keeps absent keys", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		cfg.LoadDefaults()
		want := *cfg
		want.RemoteType = RemoteS3
		want.S3Bucket = "vault"
		want.RemoteTimeout = 10 * time.Second
		want.QueueBaseBackoff = 500 * time.Millisecond
		want.QueueMaxRetries = 7
		want.AutoSyncSchedule = "@every 5m"

		parseJson(cfg)

		assert.Empty(t, cmp.Diff(&want, cfg))
	})

	t.Run("loads from env", func(t *testing.T) {
		os.Args = []string{"testbin"}
		t.Setenv("MEMOVAULT_CONFIG", pathFlag)

		cfg := &Config{}
		parseJson(cfg)
		assert.Equal(t, RemoteS3, cfg.RemoteType)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{DataDir: "defaults", QueueMaxRetries: 42}
		parseJson(cfg)

		assert.Equal(t, "defaults", cfg.DataDir)
		assert.Equal(t, 42, cfg.QueueMaxRetries)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "nope.json")}
		require.Panics(t, func() { parseJson(&Config{}) })
	})
}
