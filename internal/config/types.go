package config

import "time"

// Config represents the complete euphrosyne-lifecycle configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	AzCopy    AzCopyConfig    `yaml:"azcopy"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Callback  CallbackConfig  `yaml:"callback"`

	// SourceFile is the file the config was loaded from, empty for FromEnv.
	SourceFile string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen string        `yaml:"listen"`
	Auth   APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token (full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
	// JWTSecret verifies tokens issued by the Euphrosyne backend.
	JWTSecret string `yaml:"jwt_secret"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// StorageConfig describes the storage account and both tiers.
type StorageConfig struct {
	Account    string        `yaml:"account"`
	AccountKey string        `yaml:"account_key"`
	SASTTL     time.Duration `yaml:"sas_ttl"`
	Hot        TierConfig    `yaml:"hot"`
	Cool       TierConfig    `yaml:"cool"`
}

// TierConfig selects the backend of one tier.
type TierConfig struct {
	Backend   string `yaml:"backend"` // azure_fileshare or azure_blob
	FileShare string `yaml:"fileshare"`
	Container string `yaml:"container"`
	Prefix    string `yaml:"prefix"`
}

// AzCopyConfig defines how the azcopy executable is driven.
type AzCopyConfig struct {
	Path          string        `yaml:"path"`
	WorkDir       string        `yaml:"work_dir"`
	LogDir        string        `yaml:"log_dir"`
	LogLevel      string        `yaml:"log_level"`
	JobIDInterval time.Duration `yaml:"job_id_interval"`
	JobIDRetries  int           `yaml:"job_id_retries"`
	StatusRate    float64       `yaml:"status_rate"`
	ExtraArgs     []string      `yaml:"extra_args,omitempty"`
}

// LifecycleConfig tunes background execution of operations.
type LifecycleConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollMaxRetries int           `yaml:"poll_max_retries"`
	PollRetryDelay time.Duration `yaml:"poll_retry_delay"`
	// MaxUnknownPolls fails an operation after that many consecutive
	// unrecognized azcopy statuses; negative disables the limit.
	MaxUnknownPolls int `yaml:"max_unknown_polls"`
}

// CallbackConfig defines delivery of terminal outcomes to the backend.
type CallbackConfig struct {
	BackendURL     string        `yaml:"backend_url"`
	JWTSecret      string        `yaml:"jwt_secret"`
	SigningSecret  string        `yaml:"signing_secret"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Timeout        time.Duration `yaml:"timeout"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
}

// Defaults returns a Config with the service defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "euphrosyne-lifecycle",
			LogLevel: "info",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
		Storage: StorageConfig{
			SASTTL: time.Hour,
		},
		AzCopy: AzCopyConfig{
			Path:          "azcopy",
			LogLevel:      "INFO",
			JobIDInterval: 10 * time.Second,
			JobIDRetries:  8,
			StatusRate:    5,
		},
		Lifecycle: LifecycleConfig{
			MaxConcurrent:   4,
			PollInterval:    10 * time.Second,
			PollMaxRetries:  3,
			PollRetryDelay:  5 * time.Second,
			MaxUnknownPolls: 30,
		},
		Callback: CallbackConfig{
			MaxAttempts:    5,
			InitialBackoff: time.Second,
			Timeout:        10 * time.Second,
			TokenTTL:       5 * time.Minute,
		},
	}
}
