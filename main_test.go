package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrelay/devrelay/lib/util/signals"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version, strings.TrimSpace(out))
}

func TestCheckConfig(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_addr: 127.0.0.1:9000\nrelay:\n  send_buffer: 16\n")
	out, err := execute(t, "--config", path, "check-config")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration ok")

	bad := writeConfig(t, "relay:\n  send_buffer: 0\n")
	_, err = execute(t, "--config", bad, "check-config")
	assert.Error(t, err)
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "check-config")
	assert.Error(t, err)
}

func TestRunShutsDownWhenContextCancelled(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_addr: 127.0.0.1:0\n  shutdown_timeout: 2s\n")

	ctx, cancel := context.WithCancel(context.Background())
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path})
	errCh := make(chan error, 1)
	go func() { errCh <- cmd.ExecuteContext(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.NotPanics(t, signals.Trigger, "handlers from run are deregistered")
}
