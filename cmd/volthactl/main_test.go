package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/denismitr/voltha/logging"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out, _, err := runWithLogs(t, args...)
	return out, err
}

func runWithLogs(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCmd()
	out, logs := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(logs)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), logs.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "voltha.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVolthactl(t *testing.T) {
	t.Run("it stores and reads log levels", func(t *testing.T) {
		kvPath := filepath.Join(t.TempDir(), "voltha.vdb")

		out, err := run(t, "loglevel", "get", "adapter-open-onu", "--kv-path", kvPath)
		require.NoError(t, err)
		assert.Equal(t, "WARN (default)\n", out)

		out, err = run(t, "loglevel", "set", "adapter-open-onu", "debug", "--kv-path", kvPath)
		require.NoError(t, err)
		assert.Equal(t, "adapter-open-onu: DEBUG\n", out)

		out, err = run(t, "loglevel", "get", "adapter-open-onu", "--kv-path", kvPath)
		require.NoError(t, err)
		assert.Equal(t, "DEBUG\n", out)
	})

	t.Run("it rejects unknown log levels", func(t *testing.T) {
		kvPath := filepath.Join(t.TempDir(), "voltha.vdb")

		_, err := run(t, "loglevel", "set", "adapter-open-onu", "chatty", "--kv-path", kvPath)
		assert.True(t, errors.Is(err, logging.ErrUnsupportedLevel))
	})

	t.Run("it lists no templates of an empty store", func(t *testing.T) {
		out, err := run(t, "mib", "templates", "--kv-path", filepath.Join(t.TempDir(), "voltha.vdb"))
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("it prints simulated events", func(t *testing.T) {
		out, err := run(t, "events", "simulate", "--indicator", "onu_los", "--device", "onu-9", "--serial", "BRCM12345678")
		require.NoError(t, err)
		assert.Contains(t, out, `"device_event_name": "ONU_LOSS_OF_SIGNAL_RAISE_EVENT"`)
		assert.Contains(t, out, `"resource_id": "onu-9"`)
	})

	t.Run("it logs at the configured level", func(t *testing.T) {
		kvPath := filepath.Join(t.TempDir(), "voltha.vdb")

		_, logs, err := runWithLogs(t, "mib", "templates", "--kv-path", kvPath, "--config", writeConfig(t, "log_level: error\n"))
		require.NoError(t, err)
		assert.NotContains(t, logs, "first-line")

		_, logs, err = runWithLogs(t, "mib", "templates", "--kv-path", kvPath, "--config", writeConfig(t, "log_level: info\n"))
		require.NoError(t, err)
		assert.Contains(t, logs, "first-line")
		assert.Contains(t, logs, `"log_level":"INFO"`)
	})

	t.Run("it forces debug logging when verbose", func(t *testing.T) {
		kvPath := filepath.Join(t.TempDir(), "voltha.vdb")

		_, logs, err := runWithLogs(t, "mib", "templates", "-v", "--kv-path", kvPath, "--config", writeConfig(t, "log_level: error\n"))
		require.NoError(t, err)
		assert.Contains(t, logs, `"log_level":"DEBUG"`)
	})

	t.Run("it fails on unknown indicators", func(t *testing.T) {
		_, err := run(t, "events", "simulate", "--indicator", "bogus")
		assert.Error(t, err)
	})
}
