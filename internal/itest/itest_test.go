// This file contains integration tests that run the server binary and verify
// startup, the HTTP endpoints and shutdown.

package itest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"amsd/internal/svc/api"
)

func TestServerStartupAndShutdown(t *testing.T) {
	binPath := buildBinary(t)
	healthPort, httpPort, rtmpPort := findFreePort(t), findFreePort(t), findFreePort(t)
	configPath := writeConfig(t, healthPort, httpPort, rtmpPort, t.TempDir())

	cmd := exec.Command(binPath, "-config", configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if err := WaitForHealth(healthPort, 5*time.Second); err != nil {
		cmd.Process.Kill()
		t.Fatalf("Health endpoint not available: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/server", httpPort))
	if err != nil {
		cmd.Process.Kill()
		t.Fatalf("API request failed: %v", err)
	}
	var info api.ServerResponse
	err = json.NewDecoder(resp.Body).Decode(&info)
	resp.Body.Close()
	if err != nil || info.Version == "" {
		t.Errorf("Expected server info, got %+v (%v)", info, err)
	}

	c := dialRTMP(t, fmt.Sprintf("127.0.0.1:%d", rtmpPort))
	c.connect("live")

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		t.Fatalf("Failed to send SIGINT: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected a clean exit, got %v", err)
		}
	case <-time.After(5 * time.Second):
		cmd.Process.Kill()
		t.Fatal("Server did not exit within 5 seconds after SIGINT")
	}
}

func TestServerRejectsInvalidConfig(t *testing.T) {
	binPath := buildBinary(t)
	port := findFreePort(t)
	configPath := writeConfig(t, port, port, port, t.TempDir())

	out, err := exec.Command(binPath, "-config", configPath).CombinedOutput()
	if err == nil {
		t.Fatalf("Expected a non-zero exit for clashing ports, output: %s", out)
	}
}
