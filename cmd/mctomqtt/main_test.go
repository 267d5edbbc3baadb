package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func withConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("MCTOMQTT_CONFIG", path)
}

func TestRun_MissingConfig(t *testing.T) {
	t.Setenv("MCTOMQTT_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a missing config file")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	// No enabled destinations is a validation error.
	withConfig(t, `
general:
  iata: NYC

destinations:
  - name: disabled-broker
    enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with no enabled destinations")
	}
	if !strings.Contains(err.Error(), "config") {
		t.Errorf("error = %v, want config validation failure", err)
	}
}

func TestRun_SerialUnavailable(t *testing.T) {
	withConfig(t, `
general:
  iata: NYC
  sync_time: false

serial:
  ports:
    - /nonexistent/ttyACM99

destinations:
  - name: local
    enabled: true
    server: 127.0.0.1
    port: 1883
`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when no serial port can be opened")
	}
	if !strings.Contains(err.Error(), "serial") {
		t.Errorf("error = %v, want serial open failure", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("MCTOMQTT_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want default %q", got, defaultConfigPath)
	}

	t.Setenv("MCTOMQTT_CONFIG", "/etc/mctomqtt/config.yaml")
	if got := getConfigPath(); got != "/etc/mctomqtt/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}
