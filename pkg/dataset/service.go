package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/txn2/toloka-clearml/pkg/audit"
	"github.com/txn2/toloka-clearml/pkg/table"
)

// Service fetches and registers dataset versions against a Store.
type Service struct {
	store  Store
	audit  audit.Logger
	logger *slog.Logger
}

// Option is a functional option for configuring the service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithAuditLogger sets the audit logger. Defaults to a no-op logger.
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Service) {
		s.audit = l
	}
}

// New creates a service backed by store.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("dataset store is required")
	}
	s := &Service{
		store:  store,
		audit:  audit.NewNoopLogger(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fetch resolves a dataset version and returns the path of its local copy.
// Store errors are returned wrapped but otherwise untouched.
func (s *Service) Fetch(ctx context.Context, opts FetchOptions) (string, error) {
	start := time.Now()
	event := audit.NewEvent(audit.OperationFetch).
		WithDataset(opts.ID, opts.Project, opts.Name).
		WithStore(s.store.Name()).
		WithParameters(map[string]any{"alias": opts.Alias})

	local, err := s.store.Materialize(ctx, MaterializeRequest(opts))
	if err != nil {
		err = fmt.Errorf("materializing dataset: %w", err)
	} else {
		event.WithDataset(local.ID, opts.Project, opts.Name)
	}
	s.record(ctx, event, start, err)
	if err != nil {
		return "", err
	}

	s.logger.Debug("dataset materialized", "path", local.Path, "dataset_id", local.ID)
	return local.Path, nil
}

// Register creates a new dataset version from tbl, attaches the serialized
// table and any external URL columns, uploads and finalizes it.
//
// A failure after Create leaves a non-finalized version in the store.
func (s *Service) Register(ctx context.Context, tbl *table.Table, opts RegisterOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if tbl == nil {
		return &ValidationError{Field: "table", Err: errors.New("is required")}
	}

	start := time.Now()
	event := audit.NewEvent(audit.OperationRegister).
		WithParent(opts.ParentID).
		WithStore(s.store.Name()).
		WithParameters(map[string]any{
			"staging_path":         opts.StagingPath,
			"external_url_columns": opts.ExternalURLColumns,
			"rows":                 tbl.Len(),
			"verbose":              opts.Verbose,
		})

	version, err := s.register(ctx, tbl, opts)
	if version != nil {
		event.WithDataset(version.ID(), version.Project(), version.Name())
	} else {
		event.WithDataset("", opts.Project, opts.Name)
	}
	s.record(ctx, event, start, err)
	if err != nil {
		return err
	}

	s.logger.Info("Dataset registered in ClearML.",
		"dataset_id", version.ID(),
		"project", version.Project(),
		"name", version.Name())
	return nil
}

// register drives the version lifecycle. It returns the version handle as
// soon as one exists so failures can still be attributed to it.
func (s *Service) register(ctx context.Context, tbl *table.Table, opts RegisterOptions) (Version, error) {
	version, err := s.createVersion(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := tbl.WriteCSV(opts.StagingPath); err != nil {
		return version, fmt.Errorf("writing staging file: %w", err)
	}

	if err := version.AddFiles(ctx, opts.StagingPath, opts.Verbose); err != nil {
		return version, fmt.Errorf("adding staging file: %w", err)
	}

	if err := s.addExternalURLColumns(ctx, version, tbl, opts); err != nil {
		return version, err
	}

	if err := version.Upload(ctx, opts.Verbose); err != nil {
		return version, fmt.Errorf("uploading dataset: %w", err)
	}

	if err := version.Finalize(ctx, opts.Verbose); err != nil {
		return version, fmt.Errorf("finalizing dataset: %w", err)
	}

	return version, nil
}

func (s *Service) createVersion(ctx context.Context, opts RegisterOptions) (Version, error) {
	if opts.ParentID == "" {
		v, err := s.store.Create(ctx, opts.Project, opts.Name, "")
		if err != nil {
			return nil, fmt.Errorf("creating dataset: %w", err)
		}
		return v, nil
	}

	parent, err := s.store.Get(ctx, opts.ParentID)
	if err != nil {
		return nil, fmt.Errorf("getting parent dataset: %w", err)
	}
	v, err := s.store.Create(ctx, parent.Project(), parent.Name(), opts.ParentID)
	if err != nil {
		return nil, fmt.Errorf("creating child dataset: %w", err)
	}
	return v, nil
}

// addExternalURLColumns attaches URL columns. Only the first value of each
// column is checked; a column whose first value is not a URL is skipped whole.
func (s *Service) addExternalURLColumns(ctx context.Context, version Version, tbl *table.Table, opts RegisterOptions) error {
	if len(opts.ExternalURLColumns) == 0 || tbl.Len() == 0 {
		return nil
	}
	wanted := opts.urlColumnSet()

	for _, name := range tbl.Columns() {
		if !wanted[name] {
			continue
		}
		values, err := tbl.Column(name)
		if err != nil {
			return err
		}
		sample, ok := values[0].(string)
		if !ok || !IsURL(sample) {
			continue
		}

		urls := make([]string, 0, len(values))
		for _, v := range values {
			if table.IsMissing(v) {
				continue
			}
			urls = append(urls, table.FormatValue(v))
		}

		s.logger.Debug("adding external url column", "column", name, "urls", len(urls))
		if err := version.AddExternalFiles(ctx, urls, false, opts.Verbose); err != nil {
			return fmt.Errorf("adding external files from column %q: %w", name, err)
		}
	}
	return nil
}

// record writes the audit event. Audit failures never fail the operation.
func (s *Service) record(ctx context.Context, event *audit.Event, start time.Time, opErr error) {
	errMsg := ""
	if opErr != nil {
		errMsg = opErr.Error()
	}
	event.WithResult(opErr == nil, errMsg, time.Since(start).Milliseconds())
	if err := s.audit.Log(ctx, *event); err != nil {
		s.logger.Warn("failed to write audit event", "operation", event.Operation, "error", err)
	}
}
