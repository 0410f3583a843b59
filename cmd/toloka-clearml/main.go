// Package main provides the toloka-clearml command line tool.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/lib/pq" // postgres driver

	"github.com/txn2/toloka-clearml/pkg/audit"
	auditpg "github.com/txn2/toloka-clearml/pkg/audit/postgres"
	"github.com/txn2/toloka-clearml/pkg/clearml"
	"github.com/txn2/toloka-clearml/pkg/config"
	"github.com/txn2/toloka-clearml/pkg/database/migrate"
	"github.com/txn2/toloka-clearml/pkg/dataset"
	"github.com/txn2/toloka-clearml/pkg/table"
)

// Version is set at build time.
var Version = "dev"

const usage = `Usage: toloka-clearml [-config path] <command> [flags]

Commands:
  fetch     materialize a dataset version and print its local path
  register  register a results table as a new dataset version
  audit     list recent audit events or apply retention
`

// newStore builds the dataset store. Tests replace it.
var newStore = func(cfg config.ClearMLConfig, logger *slog.Logger) (dataset.Store, error) {
	return clearml.New(clearml.Config{
		APIHost:   cfg.APIHost,
		FilesHost: cfg.FilesHost,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		TaskID:    cfg.TaskID,
		CacheDir:  cfg.CacheDir,
		Timeout:   cfg.Timeout,
		Logger:    logger,
	})
}

func main() {
	ctx := setupSignalHandler()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalOptions struct {
	configPath  string
	showVersion bool
}

func parseGlobal(args []string, stderr io.Writer) (globalOptions, []string, error) {
	opts := globalOptions{}
	fs := flag.NewFlagSet("toloka-clearml", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	return opts, fs.Args(), nil
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, rest, err := parseGlobal(args, stderr)
	if err != nil {
		return err
	}

	if opts.showVersion {
		_, _ = fmt.Fprintf(stdout, "toloka-clearml version %s\n", Version)
		return nil
	}

	if len(rest) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return errors.New("no command given")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "fetch":
		return runFetch(ctx, cfg, logger, cmdArgs, stdout, stderr)
	case "register":
		return runRegister(ctx, cfg, logger, cmdArgs, stderr)
	case "audit":
		return runAudit(ctx, cfg, cmdArgs, stdout, stderr)
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid logging.format %q", cfg.Format)
	}
}

// app holds the wired components for one command.
type app struct {
	service *dataset.Service
	audit   *auditpg.Store
}

func (a *app) Close() {
	if a.audit != nil {
		_ = a.audit.Close()
	}
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := newStore(cfg.ClearML, logger)
	if err != nil {
		return nil, fmt.Errorf("creating dataset store: %w", err)
	}

	a := &app{}
	var auditLogger audit.Logger = audit.NewNoopLogger()
	if cfg.Audit.Enabled {
		a.audit, err = openAudit(cfg)
		if err != nil {
			return nil, err
		}
		auditLogger = a.audit
	}

	a.service, err = dataset.New(store,
		dataset.WithLogger(logger),
		dataset.WithAuditLogger(auditLogger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openAudit connects to the audit database and brings its schema up to date.
// The returned store owns the connection.
func openAudit(cfg *config.Config) (*auditpg.Store, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

	if err := migrate.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating audit database: %w", err)
	}

	return auditpg.New(db, auditpg.Config{RetentionDays: cfg.Audit.RetentionDays}), nil
}

func runFetch(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) error {
	var opts dataset.FetchOptions
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.ID, "id", "", "Dataset version id")
	fs.StringVar(&opts.Project, "project", "", "Dataset project")
	fs.StringVar(&opts.Name, "name", "", "Dataset name")
	fs.StringVar(&opts.Alias, "alias", "", "Record the resolved id under this alias on the current task")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.ID == "" && (opts.Project == "" || opts.Name == "") {
		return errors.New("fetch: -id or -project and -name are required")
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	path, err := a.service.Fetch(ctx, opts)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, path)
	return nil
}

func runRegister(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string, stderr io.Writer) error {
	var (
		opts       dataset.RegisterOptions
		input      string
		urlColumns string
	)
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&input, "input", "", "Results table to register (.csv or .tsv)")
	fs.StringVar(&opts.StagingPath, "staging", "", "Path the CSV snapshot is written to before upload")
	fs.StringVar(&opts.Project, "project", "", "Dataset project")
	fs.StringVar(&opts.Name, "name", "", "Dataset name")
	fs.StringVar(&opts.ParentID, "parent", "", "Parent dataset version id")
	fs.StringVar(&urlColumns, "url-columns", "", "Comma separated columns whose URLs are attached as external files")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Log per-file progress")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if input == "" {
		return errors.New("register: -input is required")
	}
	opts.ExternalURLColumns = splitList(urlColumns)

	if err := opts.Validate(); err != nil {
		return err
	}

	tbl, err := table.ReadCSV(input)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.service.Register(ctx, tbl, opts)
}

func runAudit(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	var (
		filter  audit.QueryFilter
		op      string
		cleanup bool
	)
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&op, "operation", "", "Filter by operation (fetch, register)")
	fs.StringVar(&filter.DatasetID, "dataset-id", "", "Filter by dataset id")
	fs.StringVar(&filter.Project, "project", "", "Filter by project")
	fs.IntVar(&filter.Limit, "limit", 20, "Maximum events to list")
	fs.BoolVar(&cleanup, "cleanup", false, "Delete events past the retention period")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filter.Operation = audit.Operation(op)

	if !cfg.Audit.Enabled {
		return errors.New("audit: audit.enabled is false")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := openAudit(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if cleanup {
		n, err := store.Cleanup(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "deleted %d audit events\n", n)
		return nil
	}

	return listAudit(ctx, store, filter, stdout)
}

// auditQuerier is the read side of the audit store.
type auditQuerier interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error)
}

// listAudit prints matching events as JSON lines.
func listAudit(ctx context.Context, q auditQuerier, filter audit.QueryFilter, w io.Writer) error {
	events, err := q.Query(ctx, filter)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("writing audit event: %w", err)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
