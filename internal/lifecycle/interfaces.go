package lifecycle

import (
	"context"

	"github.com/betagouv/euphrosyne-tools-api/internal/azcopy"
	"github.com/betagouv/euphrosyne-tools-api/internal/callback"
	"github.com/betagouv/euphrosyne-tools-api/internal/sas"
	"github.com/betagouv/euphrosyne-tools-api/internal/storage"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/betagouv/euphrosyne-tools-api/internal/lifecycle Runner
//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks github.com/betagouv/euphrosyne-tools-api/internal/lifecycle Notifier

// Runner starts and observes azcopy jobs.
type Runner interface {
	Start(ctx context.Context, source, dest string, opts azcopy.Options) (azcopy.JobRef, error)
	Poll(ctx context.Context, jobID string) (azcopy.Progress, error)
	Summary(ctx context.Context, jobID string) (azcopy.Summary, error)
}

// Notifier delivers the terminal callback.
type Notifier interface {
	Deliver(ctx context.Context, payload callback.Payload) error
}

// Resolver maps a project to its tier locations.
type Resolver interface {
	ResolveHot(projectID string) (storage.Location, error)
	ResolveCool(projectID string) (storage.Location, error)
}

// Signer issues SAS tokens for a location.
type Signer interface {
	Sign(loc storage.Location, perms sas.Permissions) (string, error)
}
