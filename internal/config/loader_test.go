package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfigFile writes YAML content with the given permissions and
// returns its path.
func writeConfigFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfigFile(t, `server:
  http_port: 9444
  shutdown_timeout: 30s

github:
  webhook_secret: file-secret
  token: ghp_filetoken
  emit: true

policy:
  path: /etc/gated/policy.yaml
  default_tier: merge-gate

archive:
  retention: 720h
`, 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Server.Port != 9444 {
		t.Errorf("Server.Port = %d, want 9444", cfg.Server.Port)
	}
	if got := cfg.Server.ShutdownTimeout.Duration().String(); got != "30s" {
		t.Errorf("Server.ShutdownTimeout = %s, want 30s", got)
	}
	if cfg.GitHub.WebhookSecret.Value() != "file-secret" {
		t.Errorf("WebhookSecret = %q, want file-secret", cfg.GitHub.WebhookSecret.Value())
	}
	if !cfg.GitHub.Emit {
		t.Error("GitHub.Emit = false, want true")
	}
	if cfg.Policy.DefaultTier != "merge-gate" {
		t.Errorf("Policy.DefaultTier = %q, want merge-gate", cfg.Policy.DefaultTier)
	}
	if got := cfg.Archive.Retention.Duration().Hours(); got != 720 {
		t.Errorf("Archive.Retention = %v hours, want 720", got)
	}
	// Fields absent from the file fall back to defaults.
	if cfg.Queue.Workers != 4 {
		t.Errorf("Queue.Workers = %d, want default 4", cfg.Queue.Workers)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `server:
  http_port: 9444

github:
  webhook_secret: file-secret
`, 0600)

	t.Setenv("GATED_SERVER_HTTP_PORT", "9555")
	t.Setenv("GATED_GITHUB_WEBHOOK_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.Server.Port != 9555 {
		t.Errorf("Server.Port = %d, want env override 9555", cfg.Server.Port)
	}
	if cfg.GitHub.WebhookSecret.Value() != "env-secret" {
		t.Errorf("WebhookSecret = %q, want env override", cfg.GitHub.WebhookSecret.Value())
	}
}

func TestLoad_MissingFileUsesEnvAndDefaults(t *testing.T) {
	t.Setenv("GATED_GITHUB_WEBHOOK_SECRET", "env-only-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil (missing file is not fatal)", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.GitHub.WebhookSecret.Value() != "env-only-secret" {
		t.Errorf("WebhookSecret = %q, want env value", cfg.GitHub.WebhookSecret.Value())
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [unclosed", 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() = nil, want parse error")
	}
}

func TestLoad_InsecurePermissionsRejected(t *testing.T) {
	path := writeConfigFile(t, "github:\n  webhook_secret: leaky\n", 0644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() = nil, want permissions error")
	}
	if !strings.Contains(err.Error(), "insecure permissions") {
		t.Errorf("Load() error = %q, want insecure permissions message", err)
	}
}

func TestLoad_ReadOnlyPermissionsAccepted(t *testing.T) {
	path := writeConfigFile(t, "github:\n  webhook_secret: hook\n", 0400)

	if _, err := Load(path); err != nil {
		t.Fatalf("Load() error = %v, want nil for 0400 file", err)
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	content := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfigFile(t, content, 0600)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() = nil, want size error")
	}
	if !strings.Contains(err.Error(), "file too large") {
		t.Errorf("Load() error = %q, want file too large message", err)
	}
}

func TestLoad_ValidationFailureSurfaces(t *testing.T) {
	// No webhook secret anywhere: validation must reject the result.
	path := writeConfigFile(t, "server:\n  http_port: 9444\n", 0600)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() = nil, want validation error")
	}
	if !strings.Contains(err.Error(), "webhook_secret") {
		t.Errorf("Load() error = %q, want webhook_secret requirement", err)
	}
}

func TestTransformEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GATED_SERVER_HTTP_PORT", "server.http_port"},
		{"GATED_GITHUB_WEBHOOK_SECRET", "github.webhook_secret"},
		{"GATED_EVENTS_EMBEDDED_PORT", "events.embedded_port"},
		{"GATED_ARCHIVE_RETENTION", "archive.retention"},
		{"GATED_LOGGING_LEVEL", "logging.level"},
	}
	for _, tt := range tests {
		if got := transformEnvKey(tt.in); got != tt.want {
			t.Errorf("transformEnvKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
