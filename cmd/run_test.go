package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/blinkauth/internal/config"
	"github.com/andresmejia3/blinkauth/internal/frames"
	"github.com/gofrs/flock"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blinkauth.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
camera:
  device: /dev/video0
storage:
  account_name: acme
  account_key: c2VjcmV0LWtleQ==
  container: faces
  service_url: http://127.0.0.1:10000/devstoreaccount1
verifier:
  url: https://verify.example.com/match
redirect:
  url: https://legacy.example.com/LoginServlet
`

func TestConfigCommand(t *testing.T) {
	path := writeConfig(t, validYAML)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant string
	}{
		{
			name:    "prints masked yaml",
			args:    []string{"config", "--config", path, "--log-level", "debug"},
			want:    []string{"account_name: acme", "level: debug", "namespace: search"},
			notWant: "c2VjcmV0LWtleQ==",
		},
		{
			name: "validate",
			args: []string{"config", "--config", path, "--validate"},
			want: []string{"Configuration is valid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			rootCmd.SetOut(&out)
			rootCmd.SetArgs(tt.args)
			defer rootCmd.SetOut(nil)

			if err := rootCmd.ExecuteContext(context.Background()); err != nil {
				t.Fatalf("execute failed: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output missing %q:\n%s", w, out.String())
				}
			}
			if tt.notWant != "" && strings.Contains(out.String(), tt.notWant) {
				t.Errorf("output contains %q", tt.notWant)
			}
		})
	}
}

func TestConfigCommand_ValidateFails(t *testing.T) {
	t.Setenv("AZURE_STORAGE_ACCOUNT_NAME", "")
	path := writeConfig(t, "camera:\n  device: /dev/video0\n")

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"config", "--config", path, "--validate"})
	defer rootCmd.SetOut(nil)

	err := rootCmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "storage.account_name") {
		t.Fatalf("expected validation error naming storage.account_name, got %v", err)
	}
}

func TestRunAuth_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Normalize(); err != nil {
		t.Fatal(err)
	}

	err := runAuth(context.Background(), &cfg, RunOptions{}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var shown reportedError
	if errors.As(err, &shown) {
		t.Error("validation errors are printed by Execute, not reported in a box")
	}
}

func TestRunAuth_CameraBusy(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Camera.LockDir = t.TempDir()

	held := flock.New(frames.LockPath(cfg.Camera.LockDir, "/dev/video7"))
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("could not take lock: %v", err)
	}
	defer held.Unlock()

	var out bytes.Buffer
	err = runAuth(context.Background(), cfg, RunOptions{Device: "/dev/video7"}, &out)

	if !errors.Is(err, frames.ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	var shown reportedError
	if !errors.As(err, &shown) {
		t.Error("camera failures should be reported in an error box")
	}
	if cfg.Camera.Device != "/dev/video7" {
		t.Errorf("--device not applied: %q", cfg.Camera.Device)
	}
}
