// Package dataset registers crowdsourcing result tables as versions in an
// external dataset store and fetches registered versions back as local copies.
//
// Storage, versioning and external-file transfer belong to the store. This
// package validates input, serializes the table and drives the store's
// version lifecycle: create, attach files and URLs, upload, finalize.
package dataset

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when no dataset version matches the
// requested identity.
var ErrNotFound = errors.New("dataset not found")

// HyperparamSection is the hyperparameter section under which a fetch alias
// is recorded as alias -> dataset id.
const HyperparamSection = "Datasets"

// MaterializeRequest identifies a dataset version to resolve and copy locally.
// Precedence between ID and Project/Name is owned by the Store.
type MaterializeRequest struct {
	ID      string
	Project string
	Name    string

	// Alias, when set, asks the store to record Alias -> resolved ID under
	// the HyperparamSection hyperparameters of the current run.
	Alias string
}

// LocalCopy is a materialized dataset version.
type LocalCopy struct {
	// ID is the resolved version id.
	ID string

	// Path is the directory holding the local copy.
	Path string
}

// Store is the client side of an external versioned-dataset service.
type Store interface {
	// Name returns the store name.
	Name() string

	// Materialize resolves a dataset version and makes a local copy of it.
	Materialize(ctx context.Context, req MaterializeRequest) (LocalCopy, error)

	// Create starts a new dataset version. parentID may be empty.
	Create(ctx context.Context, project, name, parentID string) (Version, error)

	// Get looks up an existing dataset version by id.
	Get(ctx context.Context, id string) (Version, error)
}

// Version is a handle on one dataset version in a Store.
type Version interface {
	ID() string
	Project() string
	Name() string

	// AddFiles attaches a local file or directory tree.
	AddFiles(ctx context.Context, path string, verbose bool) error

	// AddExternalFiles attaches references to externally hosted files.
	AddExternalFiles(ctx context.Context, urls []string, recursive, verbose bool) error

	// Upload transfers attached local content to the store.
	Upload(ctx context.Context, verbose bool) error

	// Finalize seals the version. It is immutable afterwards.
	Finalize(ctx context.Context, verbose bool) error
}
