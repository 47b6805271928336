// Package doctor validates euphrosyne-lifecycle configuration and the host
// environment azcopy will run in.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/betagouv/euphrosyne-tools-api/internal/auth"
	"github.com/betagouv/euphrosyne-tools-api/internal/azcopy"
	"github.com/betagouv/euphrosyne-tools-api/internal/config"
	"github.com/betagouv/euphrosyne-tools-api/internal/storage"
)

// probeProjectID is resolved to check the tier settings.
const probeProjectID = "doctor-probe"

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg          *config.Config
	lookPath     func(string) (string, error)
	checkWorkDir func(string) error
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:          cfg,
		lookPath:     exec.LookPath,
		checkWorkDir: azcopy.CheckWorkDir,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateStorage(r)
	d.validateAzCopy(r)
	d.validateCallback(r)
	d.validateAPIAuth(r)
	d.warnSuspiciousPolling(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateStorage resolves a probe project in both tiers.
func (d *Doctor) validateStorage(r *Result) {
	resolver := storage.NewResolver(d.cfg.StorageConfig())

	if _, err := resolver.ResolveHot(probeProjectID); err != nil {
		d.addError(r, "storage", "storage.hot", err.Error())
	}
	if _, err := resolver.ResolveCool(probeProjectID); err != nil {
		if errors.Is(err, storage.ErrCoolingDisabled) {
			d.addWarning(r, "storage", "storage.cool.backend", "no cool backend configured, every operation will fail")
		} else {
			d.addError(r, "storage", "storage.cool", err.Error())
		}
	}

	if d.cfg.Storage.AccountKey == "" {
		d.addError(r, "storage", "storage.account_key", "account key is required to sign copy URLs")
	}
}

// validateAzCopy checks the executable and its work directory.
func (d *Doctor) validateAzCopy(r *Result) {
	if _, err := d.lookPath(d.cfg.AzCopy.Path); err != nil {
		d.addError(r, "azcopy", "azcopy.path", fmt.Sprintf("azcopy executable %q not found", d.cfg.AzCopy.Path))
	}

	if dir := d.cfg.AzCopy.WorkDir; dir != "" {
		if err := d.checkWorkDir(dir); err != nil {
			d.addWarning(r, "azcopy", "azcopy.work_dir", err.Error())
		}
	}
}

// validateCallback checks the backend endpoint and its credentials.
func (d *Doctor) validateCallback(r *Result) {
	raw := strings.TrimSpace(d.cfg.Callback.BackendURL)
	if raw == "" {
		d.addWarning(r, "callback", "callback.backend_url", "no backend url configured, outcomes will only be logged")
		return
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		d.addError(r, "callback", "callback.backend_url", fmt.Sprintf("backend url %q must be an absolute http(s) url", raw))
	}
	if d.cfg.Callback.JWTSecret == "" {
		d.addError(r, "callback", "callback.jwt_secret", "jwt secret is required to authenticate callbacks")
	}
}

// validateAPIAuth checks credentials and scope names.
func (d *Doctor) validateAPIAuth(r *Result) {
	if !d.cfg.AuthConfig().Enabled() {
		d.addWarning(r, "api", "api.auth", "no authentication configured, lifecycle routes will reject every request")
	}

	known := map[string]bool{
		auth.ScopeAll:            true,
		auth.ScopeLifecycleRead:  true,
		auth.ScopeLifecycleWrite: true,
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !known[scope] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected %s, %s or %s)", scope, auth.ScopeLifecycleRead, auth.ScopeLifecycleWrite, auth.ScopeAll))
			}
		}
	}
}

// warnSuspiciousPolling flags settings that hammer azcopy or never give up.
func (d *Doctor) warnSuspiciousPolling(r *Result) {
	if d.cfg.Lifecycle.PollInterval < time.Second {
		d.addWarning(r, "lifecycle", "lifecycle.poll_interval",
			fmt.Sprintf("poll interval %s is very short (< 1s)", d.cfg.Lifecycle.PollInterval))
	}
	if d.cfg.Lifecycle.MaxUnknownPolls < 0 {
		d.addWarning(r, "lifecycle", "lifecycle.max_unknown_polls",
			"unknown azcopy statuses are tolerated forever")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
