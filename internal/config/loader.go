package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadDotEnv loads variables from a .env file without overriding the ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Resolve loads the config at path, or discovers it when path is empty.
// Without any config file the configuration is read from the environment.
func Resolve(path string) (*Config, error) {
	if path == "" {
		discovered, err := DiscoverConfigPath()
		if errors.Is(err, ErrNoConfig) {
			return FromEnv()
		}
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	return Load(path)
}

// Load reads and parses configuration from a file. A directory is accepted
// when it contains config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if !fileExists(absPath) {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.SourceFile = absPath

	applyConfigDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// FromEnv builds the configuration from the environment variables of the
// historical deployment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			LogLevel: os.Getenv("LOG_LEVEL"),
		},
		API: APIConfig{
			Listen: os.Getenv("LIFECYCLE_LISTEN"),
			Auth: APIAuthConfig{
				APIKey:    os.Getenv("LIFECYCLE_API_KEY"),
				JWTSecret: os.Getenv("JWT_SECRET_KEY"),
			},
		},
		Storage: StorageConfig{
			Account:    os.Getenv("AZURE_STORAGE_ACCOUNT"),
			AccountKey: os.Getenv("AZURE_STORAGE_KEY"),
			Hot: TierConfig{
				Backend:   os.Getenv("DATA_BACKEND"),
				FileShare: os.Getenv("AZURE_STORAGE_FILESHARE"),
				Container: os.Getenv("AZURE_STORAGE_DATA_CONTAINER"),
				Prefix:    os.Getenv("DATA_PROJECTS_LOCATION_PREFIX"),
			},
			Cool: TierConfig{
				Backend:   os.Getenv("DATA_BACKEND_COOL"),
				FileShare: os.Getenv("AZURE_STORAGE_FILESHARE_COOL"),
				Container: os.Getenv("AZURE_STORAGE_DATA_CONTAINER_COOL"),
				Prefix:    os.Getenv("DATA_PROJECTS_LOCATION_PREFIX_COOL"),
			},
		},
		AzCopy: AzCopyConfig{
			Path:     os.Getenv("AZCOPY_PATH"),
			WorkDir:  os.Getenv("AZCOPY_WORK_DIR"),
			LogDir:   os.Getenv("AZCOPY_LOG_DIR"),
			LogLevel: os.Getenv("AZCOPY_DEFAULT_LOG_LEVEL"),
		},
		Callback: CallbackConfig{
			BackendURL:    os.Getenv("EUPHROSYNE_BACKEND_URL"),
			JWTSecret:     os.Getenv("JWT_SECRET_KEY"),
			SigningSecret: os.Getenv("LIFECYCLE_CALLBACK_SIGNING_SECRET"),
		},
	}

	var err error
	if cfg.Lifecycle.MaxConcurrent, err = envInt("LIFECYCLE_MAX_CONCURRENT"); err != nil {
		return nil, err
	}
	if cfg.Lifecycle.PollInterval, err = envDuration("LIFECYCLE_POLL_INTERVAL"); err != nil {
		return nil, err
	}

	applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envInt(key string) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, value)
	}
	return n, nil
}

func envDuration(key string) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (got %q)", key, value)
	}
	return d, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Service.LogLevel))

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Storage.SASTTL == 0 {
		cfg.Storage.SASTTL = defaults.Storage.SASTTL
	}

	if cfg.AzCopy.Path == "" {
		cfg.AzCopy.Path = defaults.AzCopy.Path
	}
	if cfg.AzCopy.LogLevel == "" {
		cfg.AzCopy.LogLevel = defaults.AzCopy.LogLevel
	}
	if cfg.AzCopy.JobIDInterval == 0 {
		cfg.AzCopy.JobIDInterval = defaults.AzCopy.JobIDInterval
	}
	if cfg.AzCopy.JobIDRetries == 0 {
		cfg.AzCopy.JobIDRetries = defaults.AzCopy.JobIDRetries
	}
	if cfg.AzCopy.StatusRate == 0 {
		cfg.AzCopy.StatusRate = defaults.AzCopy.StatusRate
	}

	if cfg.Lifecycle.MaxConcurrent == 0 {
		cfg.Lifecycle.MaxConcurrent = defaults.Lifecycle.MaxConcurrent
	}
	if cfg.Lifecycle.PollInterval == 0 {
		cfg.Lifecycle.PollInterval = defaults.Lifecycle.PollInterval
	}
	if cfg.Lifecycle.PollMaxRetries == 0 {
		cfg.Lifecycle.PollMaxRetries = defaults.Lifecycle.PollMaxRetries
	}
	if cfg.Lifecycle.PollRetryDelay == 0 {
		cfg.Lifecycle.PollRetryDelay = defaults.Lifecycle.PollRetryDelay
	}
	if cfg.Lifecycle.MaxUnknownPolls == 0 {
		cfg.Lifecycle.MaxUnknownPolls = defaults.Lifecycle.MaxUnknownPolls
	}

	if cfg.Callback.MaxAttempts == 0 {
		cfg.Callback.MaxAttempts = defaults.Callback.MaxAttempts
	}
	if cfg.Callback.InitialBackoff == 0 {
		cfg.Callback.InitialBackoff = defaults.Callback.InitialBackoff
	}
	if cfg.Callback.Timeout == 0 {
		cfg.Callback.Timeout = defaults.Callback.Timeout
	}
	if cfg.Callback.TokenTTL == 0 {
		cfg.Callback.TokenTTL = defaults.Callback.TokenTTL
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name the missing variable.
		return match
	})
}

// validate performs basic validation on the configuration. Storage backends
// are not checked here: the resolver reports them per operation so that a
// service without a cool tier still starts.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
		return fmt.Errorf("api.listen must be host:port (got %q)", cfg.API.Listen)
	}

	secrets := map[string]string{
		"api.auth.api_key":        cfg.API.Auth.APIKey,
		"api.auth.jwt_secret":     cfg.API.Auth.JWTSecret,
		"storage.account_key":     cfg.Storage.AccountKey,
		"callback.jwt_secret":     cfg.Callback.JWTSecret,
		"callback.signing_secret": cfg.Callback.SigningSecret,
		"callback.backend_url":    cfg.Callback.BackendURL,
	}
	for key, value := range secrets {
		if err := checkUnresolved(key, value); err != nil {
			return err
		}
	}
	for i, tok := range cfg.API.Auth.Tokens {
		key := fmt.Sprintf("api.auth.tokens[%d]", i)
		if tok.Token == "" {
			return fmt.Errorf("%s.token is required", key)
		}
		if err := checkUnresolved(key+".token", tok.Token); err != nil {
			return err
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("%s.scopes must be non-empty", key)
		}
	}

	if cfg.Storage.SASTTL < 0 {
		return fmt.Errorf("storage.sas_ttl must be positive")
	}
	if cfg.AzCopy.JobIDInterval < 0 || cfg.AzCopy.JobIDRetries < 0 {
		return fmt.Errorf("azcopy.job_id_interval and azcopy.job_id_retries must be positive")
	}
	if cfg.AzCopy.StatusRate < 0 {
		return fmt.Errorf("azcopy.status_rate must be positive")
	}
	if cfg.Lifecycle.MaxConcurrent < 0 {
		return fmt.Errorf("lifecycle.max_concurrent must be positive")
	}
	if cfg.Lifecycle.PollInterval < 0 || cfg.Lifecycle.PollRetryDelay < 0 {
		return fmt.Errorf("lifecycle.poll_interval and lifecycle.poll_retry_delay must be positive")
	}
	if cfg.Lifecycle.PollMaxRetries < 0 {
		return fmt.Errorf("lifecycle.poll_max_retries must be positive")
	}
	if cfg.Callback.MaxAttempts < 1 {
		return fmt.Errorf("callback.max_attempts must be at least 1")
	}
	if cfg.Callback.InitialBackoff < 0 || cfg.Callback.Timeout < 0 || cfg.Callback.TokenTTL < 0 {
		return fmt.Errorf("callback.initial_backoff, callback.timeout and callback.token_ttl must be positive")
	}
	return nil
}

func checkUnresolved(key, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", key, matches[1])
	}
	return nil
}
