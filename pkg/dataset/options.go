package dataset

import "errors"

// FetchOptions identifies the dataset version to fetch.
type FetchOptions struct {
	ID      string
	Project string
	Name    string
	Alias   string
}

// RegisterOptions configures a register call.
type RegisterOptions struct {
	// StagingPath is where the table is serialized before upload. The file
	// is written once and left in place.
	StagingPath string

	// Project and Name start a fresh dataset lineage.
	Project string
	Name    string

	// ParentID continues an existing lineage. The new version inherits the
	// parent's project and name.
	ParentID string

	// ExternalURLColumns names columns whose values are also attached as
	// external file references.
	ExternalURLColumns []string

	// Verbose asks the store to report per-file progress.
	Verbose bool
}

// Validate checks the identity precondition and required inputs.
func (o RegisterOptions) Validate() error {
	if (o.Project == "" || o.Name == "") && o.ParentID == "" {
		return &ValidationError{Err: ErrInvalidIdentity}
	}
	if o.StagingPath == "" {
		return &ValidationError{Field: "staging_path", Err: errors.New("is required")}
	}
	return nil
}

// urlColumnSet returns ExternalURLColumns as a set.
func (o RegisterOptions) urlColumnSet() map[string]bool {
	set := make(map[string]bool, len(o.ExternalURLColumns))
	for _, c := range o.ExternalURLColumns {
		set[c] = true
	}
	return set
}
