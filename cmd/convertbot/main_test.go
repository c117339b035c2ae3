// ABOUTME: Tests for convertbot wiring helpers
// ABOUTME: Covers logger setup, the generated config, and the staging janitor

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/convertbot/internal/config"
	"github.com/2389/convertbot/internal/stage"
)

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	logger = setupLogger(&buf, "debug", "json")
	logger.Debug("hello", "k", "v")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
	assert.Contains(t, buf.String(), `"k":"v"`)

	assert.True(t, setupLogger(&buf, "bogus", "text").Enabled(context.Background(), slog.LevelInfo))
}

func TestRenderConfig_Parses(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	out, err := renderConfig(setupAnswers{
		Homeserver:  "https://matrix.example.org",
		Username:    "convertbot",
		Password:    `pa"ss`,
		Encryption:  true,
		RecoveryKey: "EsTc abcd",
		APIKey:      "key-123",
		Prefix:      "!",
	})
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(out), config.FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, "https://matrix.example.org", cfg.Matrix.Homeserver)
	assert.Equal(t, `pa"ss`, cfg.Matrix.Password)
	assert.True(t, cfg.Matrix.Encryption)
	assert.Equal(t, "EsTc abcd", cfg.Matrix.RecoveryKey)
	assert.Equal(t, "key-123", cfg.Backend.APIKey)
	assert.Equal(t, 60*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "ignore", cfg.Bot.IdleReply)
}

func TestRenderConfig_APIKeyFromEnv(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("CLOUDMERSIVE_API_KEY", "from-env")

	out, err := renderConfig(setupAnswers{
		Homeserver: "https://matrix.example.org",
		Username:   "bot",
		Password:   "secret",
		Prefix:     "!",
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "recovery_key")

	cfg, err := config.Parse([]byte(out), config.FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Backend.APIKey)
	assert.False(t, cfg.Matrix.Encryption)
}

func TestRunInit_WritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convertbot", "config.toml")
	t.Setenv("CONVERTBOT_CONFIG", path)
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	input := strings.Join([]string{
		"",        // homeserver default
		"bot",     // username
		"secret",  // password
		"n",       // encryption
		"key-123", // api key
		"",        // prefix default
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(input), &out))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://matrix.org", cfg.Matrix.Homeserver)
	assert.Equal(t, "bot", cfg.Matrix.Username)
	assert.Equal(t, "!", cfg.Bot.CommandPrefix)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRunInit_KeepsExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0600))
	t.Setenv("CONVERTBOT_CONFIG", path)

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader("n\n"), &out))
	assert.Contains(t, out.String(), "Aborted")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestSweepAll(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	staging, err := stage.New(t.TempDir(), 0, logger)
	require.NoError(t, err)
	results, err := stage.New(t.TempDir(), 0, logger)
	require.NoError(t, err)

	staged, err := staging.Stage("!room/@alice", "report.docx", strings.NewReader("data"))
	require.NoError(t, err)
	result := filepath.Join(results.Dir(), "out.pdf")
	require.NoError(t, os.WriteFile(result, []byte("pdf"), 0600))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(staged.Path, old, old))
	require.NoError(t, os.Chtimes(result, old, old))

	assert.Equal(t, 2, sweepAll([]*stage.Stage{staging, results}, time.Hour, logger))
	assert.NoFileExists(t, staged.Path)
	assert.NoFileExists(t, result)
}

func TestRunJanitor_StopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	area, err := stage.New(t.TempDir(), 0, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runJanitor(ctx, []*stage.Stage{area}, time.Hour, time.Millisecond, logger)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
