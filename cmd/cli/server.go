package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	serverBinaryName = "media-fetch-server"
	// serverBinaryEnv points the CLI at a server binary outside PATH
	serverBinaryEnv = "MEDIAFETCH_SERVER_BINARY"
)

var (
	serverStartTimeout = 10 * time.Second
	serverPollInterval = 200 * time.Millisecond
)

// serverHealth is the part of the /health reply the CLI relies on
type serverHealth struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// probeServer asks baseURL for its health. Anything other than a media-fetch
// server answering "ok" is an error, so a foreign service on the port is not
// mistaken for ours.
func probeServer(baseURL string) (*serverHealth, error) {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned HTTP %d", resp.StatusCode)
	}
	var health serverHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("unexpected health reply: %w", err)
	}
	if health.Status != "ok" {
		return nil, fmt.Errorf("server reports status %q", health.Status)
	}
	return &health, nil
}

// locateServerBinary prefers the env override, then a server installed next
// to this CLI, then PATH
func locateServerBinary() (string, error) {
	if path := os.Getenv(serverBinaryEnv); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%s: %w", serverBinaryEnv, err)
		}
		return path, nil
	}

	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), serverBinaryName)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}

	path, err := exec.LookPath(serverBinaryName)
	if err != nil {
		return "", fmt.Errorf("%s not found (set %s)", serverBinaryName, serverBinaryEnv)
	}
	return path, nil
}

// launchServer runs the server in daemon mode; the server detaches itself,
// so the launcher returns as soon as the background process is forked
func launchServer(binary string) error {
	out, err := exec.Command(binary, "-daemon").CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("failed to launch %s: %w", binary, err)
		}
		return fmt.Errorf("failed to launch %s: %s", binary, msg)
	}
	return nil
}

// awaitServer polls baseURL until it answers or the timeout elapses
func awaitServer(baseURL string) (*serverHealth, error) {
	deadline := time.Now().Add(serverStartTimeout)
	ticker := time.NewTicker(serverPollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		health, err := probeServer(baseURL)
		if err == nil {
			return health, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("server did not become healthy within %v: %w", serverStartTimeout, lastErr)
		}
		<-ticker.C
	}
}

// ensureServerRunning starts a local server when none answers at serverURL
func ensureServerRunning() error {
	if _, err := probeServer(serverURL); err == nil {
		return nil
	}

	binary, err := locateServerBinary()
	if err != nil {
		return err
	}

	fmt.Println("Server not running, starting...")
	if err := launchServer(binary); err != nil {
		return err
	}

	health, err := awaitServer(serverURL)
	if err != nil {
		return err
	}
	fmt.Printf("Server %s started\n", health.Version)
	return nil
}
