package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/betagouv/euphrosyne-tools-api/internal/storage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: `
storage:
  account: acct
  hot:
    backend: azure_fileshare
    fileshare: projects
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Storage.Account != "acct" {
					t.Error("storage.account not parsed")
				}
				if cfg.Storage.Hot.FileShare != "projects" {
					t.Error("storage.hot.fileshare not parsed")
				}
				if cfg.Lifecycle.PollInterval != 10*time.Second {
					t.Errorf("expected default poll interval, got %v", cfg.Lifecycle.PollInterval)
				}
				if cfg.Callback.MaxAttempts != 5 {
					t.Errorf("expected default max attempts, got %d", cfg.Callback.MaxAttempts)
				}
				if cfg.AzCopy.JobIDRetries != 8 {
					t.Errorf("expected default job id retries, got %d", cfg.AzCopy.JobIDRetries)
				}
				if cfg.API.Listen != "127.0.0.1:8080" {
					t.Errorf("expected default listen, got %q", cfg.API.Listen)
				}
				if cfg.Service.LogLevel != "info" {
					t.Errorf("expected default log level, got %q", cfg.Service.LogLevel)
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
storage:
  account_key: ${TEST_STORAGE_KEY}
callback:
  backend_url: ${TEST_BACKEND_URL}
  jwt_secret: ${TEST_JWT}
`,
			env: map[string]string{
				"TEST_STORAGE_KEY": "a2V5",
				"TEST_BACKEND_URL": "https://euphrosyne.example",
				"TEST_JWT":         "secret",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Storage.AccountKey != "a2V5" {
					t.Errorf("account_key not interpolated: %q", cfg.Storage.AccountKey)
				}
				if cfg.Callback.BackendURL != "https://euphrosyne.example" {
					t.Errorf("backend_url not interpolated: %q", cfg.Callback.BackendURL)
				}
			},
		},
		{
			name: "unresolved secret",
			yaml: `
callback:
  jwt_secret: ${TEST_MISSING_SECRET_VAR}
`,
			wantErr: "${TEST_MISSING_SECRET_VAR} is not set",
		},
		{
			name: "durations and overrides",
			yaml: `
service:
  log_level: DEBUG
lifecycle:
  max_concurrent: 2
  poll_interval: 30s
  max_unknown_polls: -1
callback:
  max_attempts: 3
  initial_backoff: 250ms
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" {
					t.Errorf("expected normalized log level, got %q", cfg.Service.LogLevel)
				}
				if cfg.Lifecycle.PollInterval != 30*time.Second {
					t.Errorf("poll_interval not parsed: %v", cfg.Lifecycle.PollInterval)
				}
				if cfg.Lifecycle.MaxUnknownPolls != -1 {
					t.Errorf("max_unknown_polls not parsed: %d", cfg.Lifecycle.MaxUnknownPolls)
				}
				if cfg.Callback.InitialBackoff != 250*time.Millisecond {
					t.Errorf("initial_backoff not parsed: %v", cfg.Callback.InitialBackoff)
				}
			},
		},
		{
			name:    "invalid log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "invalid listen",
			yaml:    "api:\n  listen: nope\n",
			wantErr: "api.listen",
		},
		{
			name:    "negative attempts",
			yaml:    "callback:\n  max_attempts: -2\n",
			wantErr: "callback.max_attempts",
		},
		{
			name: "token without scopes",
			yaml: `
api:
  auth:
    tokens:
      - token: abc
`,
			wantErr: "api.auth.tokens[0].scopes",
		},
		{
			name:    "malformed yaml",
			yaml:    "storage: [",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.SourceFile != path {
				t.Errorf("expected source file %q, got %q", path, cfg.SourceFile)
			}
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	path := writeConfig(t, "service:\n  name: lifecycle-test\n")

	cfg, err := Load(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "lifecycle-test" {
		t.Fatalf("expected service name from file, got %q", cfg.Service.Name)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without config.yaml")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DATA_BACKEND", "azure_fileshare")
	t.Setenv("DATA_BACKEND_COOL", "azure_blob")
	t.Setenv("AZURE_STORAGE_ACCOUNT", "acct")
	t.Setenv("AZURE_STORAGE_KEY", "a2V5")
	t.Setenv("AZURE_STORAGE_FILESHARE", "hot-share")
	t.Setenv("AZURE_STORAGE_DATA_CONTAINER_COOL", "cool")
	t.Setenv("DATA_PROJECTS_LOCATION_PREFIX", "projects")
	t.Setenv("DATA_PROJECTS_LOCATION_PREFIX_COOL", "archive/projects")
	t.Setenv("AZCOPY_DEFAULT_LOG_LEVEL", "WARNING")
	t.Setenv("EUPHROSYNE_BACKEND_URL", "https://euphrosyne.example")
	t.Setenv("JWT_SECRET_KEY", "jwt")
	t.Setenv("LIFECYCLE_API_KEY", "key")
	t.Setenv("LIFECYCLE_LISTEN", "0.0.0.0:9000")
	t.Setenv("LIFECYCLE_POLL_INTERVAL", "2s")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.SourceFile != "" {
		t.Errorf("expected no source file, got %q", cfg.SourceFile)
	}
	if cfg.API.Listen != "0.0.0.0:9000" {
		t.Errorf("listen not read: %q", cfg.API.Listen)
	}
	if cfg.API.Auth.JWTSecret != "jwt" || cfg.Callback.JWTSecret != "jwt" {
		t.Error("JWT_SECRET_KEY should feed inbound and callback tokens")
	}
	if cfg.Lifecycle.PollInterval != 2*time.Second {
		t.Errorf("poll interval not read: %v", cfg.Lifecycle.PollInterval)
	}
	if cfg.AzCopy.LogLevel != "WARNING" {
		t.Errorf("azcopy log level not read: %q", cfg.AzCopy.LogLevel)
	}

	resolver := storage.NewResolver(cfg.StorageConfig())
	loc, err := resolver.ResolveCool("proj-a")
	if err != nil {
		t.Fatalf("ResolveCool() error = %v", err)
	}
	if loc.URI != "https://acct.blob.core.windows.net/cool/archive/projects/proj-a" {
		t.Errorf("unexpected cool uri %q", loc.URI)
	}
}

func TestFromEnvRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("LIFECYCLE_MAX_CONCURRENT", "many")
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "LIFECYCLE_MAX_CONCURRENT") {
		t.Fatalf("expected LIFECYCLE_MAX_CONCURRENT error, got %v", err)
	}
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "TEST_DOTENV_NEW=from-file\nTEST_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("TEST_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("TEST_DOTENV_NEW") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("TEST_DOTENV_NEW"); got != "from-file" {
		t.Errorf("expected value from file, got %q", got)
	}
	if got := os.Getenv("TEST_DOTENV_SET"); got != "from-env" {
		t.Errorf("existing env should win, got %q", got)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestResolveFallsBackToEnv(t *testing.T) {
	t.Setenv(ConfigDirEnv, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("LIFECYCLE_LISTEN", "127.0.0.1:9100")

	if _, err := os.Stat("/etc/euphrosyne-lifecycle/config.yaml"); err == nil {
		t.Skip("system config present")
	}

	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.SourceFile != "" || cfg.API.Listen != "127.0.0.1:9100" {
		t.Fatalf("expected env config, got source %q listen %q", cfg.SourceFile, cfg.API.Listen)
	}
}

func TestDiscoverConfigPathPrefersEnvDir(t *testing.T) {
	path := writeConfig(t, "service:\n  name: x\n")
	t.Setenv(ConfigDirEnv, filepath.Dir(path))

	got, err := DiscoverConfigPath()
	if err != nil {
		t.Fatalf("DiscoverConfigPath() error = %v", err)
	}
	if got != path {
		t.Fatalf("expected %q, got %q", path, got)
	}
}
