// Package storage resolves where a project's data lives in each storage tier.
package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Role is a logical storage tier.
type Role string

const (
	RoleHot  Role = "HOT"
	RoleCool Role = "COOL"
)

// Backend is the Azure storage service backing a tier.
type Backend string

const (
	BackendFileShare Backend = "AZURE_FILESHARE"
	BackendBlob      Backend = "AZURE_BLOB"
)

var (
	// ErrValidation is returned for malformed project identifiers.
	ErrValidation = errors.New("invalid project id")
	// ErrConfiguration is returned when required storage settings are missing or invalid.
	ErrConfiguration = errors.New("storage configuration error")
	// ErrCoolingDisabled is returned when the cool tier has no backend configured.
	ErrCoolingDisabled = fmt.Errorf("%w: cooling is disabled because no cool backend is set", ErrConfiguration)
)

var backendValues = map[string]Backend{
	"azure_fileshare": BackendFileShare,
	"azure_blob":      BackendBlob,
}

// TierConfig holds the settings of a single storage tier.
type TierConfig struct {
	// Backend is "azure_fileshare" or "azure_blob" (case-insensitive).
	Backend   string
	FileShare string
	Container string
	Prefix    string
}

// Config is the storage configuration consumed by the resolver.
type Config struct {
	Account string
	Hot     TierConfig
	Cool    TierConfig
}

// Location is the canonical root of a project's data in one tier.
type Location struct {
	Role      Role
	Backend   Backend
	ProjectID string
	Account   string
	// Container is the blob container or file share name the URI is rooted in.
	Container string
	URI       string
}

// Resolver maps (role, project id) to a Location. It performs no I/O.
type Resolver struct {
	cfg Config
}

// NewResolver creates a resolver over a fixed configuration.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// ResolveHot resolves the hot tier location of a project.
func (r *Resolver) ResolveHot(projectID string) (Location, error) {
	return r.Resolve(RoleHot, projectID)
}

// ResolveCool resolves the cool tier location of a project.
func (r *Resolver) ResolveCool(projectID string) (Location, error) {
	return r.Resolve(RoleCool, projectID)
}

// Resolve returns the location of projectID in the given tier.
// The URI depends only on the arguments and the configuration.
func (r *Resolver) Resolve(role Role, projectID string) (Location, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return Location{}, err
	}

	tier, key, err := r.tier(role)
	if err != nil {
		return Location{}, err
	}
	backend, err := parseBackend(tier.Backend, role, key)
	if err != nil {
		return Location{}, err
	}

	if r.cfg.Account == "" {
		return Location{}, fmt.Errorf("%w: storage.account is required", ErrConfiguration)
	}

	prefix := normalizePrefix(tier.Prefix)
	loc := Location{
		Role:      role,
		Backend:   backend,
		ProjectID: projectID,
		Account:   r.cfg.Account,
	}

	switch backend {
	case BackendFileShare:
		if tier.FileShare == "" {
			return Location{}, fmt.Errorf("%w: %s.fileshare is required for backend azure_fileshare", ErrConfiguration, key)
		}
		loc.Container = tier.FileShare
		loc.URI = fmt.Sprintf("https://%s.file.core.windows.net/%s", r.cfg.Account, joinPath(tier.FileShare, prefix, projectID))
	case BackendBlob:
		if tier.Container == "" {
			return Location{}, fmt.Errorf("%w: %s.container is required for backend azure_blob", ErrConfiguration, key)
		}
		loc.Container = tier.Container
		loc.URI = fmt.Sprintf("https://%s.blob.core.windows.net/%s", r.cfg.Account, joinPath(tier.Container, prefix, projectID))
	}

	return loc, nil
}

func (r *Resolver) tier(role Role) (TierConfig, string, error) {
	switch role {
	case RoleHot:
		return r.cfg.Hot, "storage.hot", nil
	case RoleCool:
		return r.cfg.Cool, "storage.cool", nil
	default:
		return TierConfig{}, "", fmt.Errorf("%w: unknown storage role %q", ErrConfiguration, role)
	}
}

func parseBackend(value string, role Role, key string) (Backend, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		if role == RoleCool {
			return "", ErrCoolingDisabled
		}
		return "", fmt.Errorf("%w: %s.backend is not set", ErrConfiguration, key)
	}
	backend, ok := backendValues[normalized]
	if !ok {
		return "", fmt.Errorf("%w: %s.backend must be 'azure_fileshare' or 'azure_blob' (got %q)", ErrConfiguration, key, value)
	}
	return backend, nil
}

// ValidateProjectID rejects identifiers that could escape the project root.
func ValidateProjectID(projectID string) error {
	switch {
	case projectID == "":
		return fmt.Errorf("%w: must not be empty", ErrValidation)
	case projectID != strings.TrimSpace(projectID):
		return fmt.Errorf("%w: must not contain leading or trailing whitespace", ErrValidation)
	case strings.Contains(projectID, "//"):
		return fmt.Errorf("%w: must not contain '//'", ErrValidation)
	case strings.ContainsAny(projectID, `/\`):
		return fmt.Errorf(`%w: must not contain '/' or '\'`, ErrValidation)
	case strings.Contains(projectID, ".."):
		return fmt.Errorf("%w: must not contain '..'", ErrValidation)
	}
	return nil
}

func normalizePrefix(prefix string) string {
	return joinPath(strings.Split(prefix, "/")...)
}

// joinPath joins non-empty segments with single separators.
func joinPath(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
