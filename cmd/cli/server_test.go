//go:build !windows

package main

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthReply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-server")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestProbeServer_AcceptsOnlyHealthyReply(t *testing.T) {
	withServer(t, healthReply(`{"status":"ok","version":"1.0.0","jobs":{"active":0}}`))
	health, err := probeServer(serverURL)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", health.Version)

	withServer(t, healthReply(`<html>some other service</html>`))
	_, err = probeServer(serverURL)
	assert.Error(t, err)

	withServer(t, healthReply(`{"status":"degraded"}`))
	_, err = probeServer(serverURL)
	assert.ErrorContains(t, err, "degraded")

	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err = probeServer(serverURL)
	assert.ErrorContains(t, err, "503")
}

func TestLocateServerBinary_EnvOverride(t *testing.T) {
	script := writeScript(t, "exit 0")
	t.Setenv(serverBinaryEnv, script)
	path, err := locateServerBinary()
	require.NoError(t, err)
	assert.Equal(t, script, path)

	t.Setenv(serverBinaryEnv, filepath.Join(t.TempDir(), "missing"))
	_, err = locateServerBinary()
	assert.ErrorContains(t, err, serverBinaryEnv)
}

func TestLaunchServer_PassesDaemonFlag(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "args")
	script := writeScript(t, `echo "$@" > "`+marker+`"`)

	require.NoError(t, launchServer(script))
	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "-daemon\n", string(data))

	failing := writeScript(t, `echo "Failed to start daemon: no such config" >&2; exit 1`)
	err = launchServer(failing)
	assert.ErrorContains(t, err, "no such config")
}

func TestEnsureServerRunning_SkipsLaunchWhenHealthy(t *testing.T) {
	withServer(t, healthReply(`{"status":"ok","version":"1.0.0"}`))
	t.Setenv(serverBinaryEnv, filepath.Join(t.TempDir(), "never-run"))
	assert.NoError(t, ensureServerRunning())
}

func TestEnsureServerRunning_ReportsUnhealthyLaunch(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	t.Setenv(serverBinaryEnv, writeScript(t, "exit 0"))

	oldTimeout, oldPoll := serverStartTimeout, serverPollInterval
	serverStartTimeout, serverPollInterval = 100*time.Millisecond, 10*time.Millisecond
	t.Cleanup(func() { serverStartTimeout, serverPollInterval = oldTimeout, oldPoll })

	err := ensureServerRunning()
	assert.ErrorContains(t, err, "did not become healthy")
}
