package config

import (
	"github.com/betagouv/euphrosyne-tools-api/internal/auth"
	"github.com/betagouv/euphrosyne-tools-api/internal/azcopy"
	"github.com/betagouv/euphrosyne-tools-api/internal/callback"
	"github.com/betagouv/euphrosyne-tools-api/internal/lifecycle"
	"github.com/betagouv/euphrosyne-tools-api/internal/storage"
)

// StorageConfig returns the resolver settings.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Account: c.Storage.Account,
		Hot:     storage.TierConfig(c.Storage.Hot),
		Cool:    storage.TierConfig(c.Storage.Cool),
	}
}

// AzCopyConfig returns the runner settings.
func (c *Config) AzCopyConfig() azcopy.Config {
	return azcopy.Config{
		Path:          c.AzCopy.Path,
		WorkDir:       c.AzCopy.WorkDir,
		LogDir:        c.AzCopy.LogDir,
		LogLevel:      c.AzCopy.LogLevel,
		JobIDInterval: c.AzCopy.JobIDInterval,
		JobIDRetries:  c.AzCopy.JobIDRetries,
		StatusRate:    c.AzCopy.StatusRate,
	}
}

// CallbackConfig returns the delivery settings.
func (c *Config) CallbackConfig() callback.Config {
	return callback.Config{
		BackendURL:     c.Callback.BackendURL,
		JWTSecret:      c.Callback.JWTSecret,
		SigningSecret:  c.Callback.SigningSecret,
		MaxAttempts:    c.Callback.MaxAttempts,
		InitialBackoff: c.Callback.InitialBackoff,
		Timeout:        c.Callback.Timeout,
		TokenTTL:       c.Callback.TokenTTL,
	}
}

// LifecycleConfig returns the orchestrator settings.
func (c *Config) LifecycleConfig() lifecycle.Config {
	opts := azcopy.DefaultOptions()
	opts.LogLevel = c.AzCopy.LogLevel
	opts.ExtraArgs = c.AzCopy.ExtraArgs
	return lifecycle.Config{
		PollInterval:    c.Lifecycle.PollInterval,
		PollMaxRetries:  c.Lifecycle.PollMaxRetries,
		PollRetryDelay:  c.Lifecycle.PollRetryDelay,
		MaxUnknownPolls: c.Lifecycle.MaxUnknownPolls,
		CopyOptions:     opts,
	}
}

// AuthConfig returns the inbound credentials.
func (c *Config) AuthConfig() auth.Config {
	tokens := make([]auth.TokenConfig, 0, len(c.API.Auth.Tokens))
	for _, t := range c.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return auth.Config{
		APIKey:    c.API.Auth.APIKey,
		Tokens:    tokens,
		JWTSecret: c.API.Auth.JWTSecret,
	}
}
