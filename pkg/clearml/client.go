// Package clearml provides a ClearML implementation of the dataset store.
//
// Dataset versions are ClearML tasks of type data_processing tagged
// "dataset". The file list of a version is kept in a JSON "state" artifact
// stored on the ClearML file server next to the uploaded files.
package clearml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/txn2/toloka-clearml/pkg/dataset"
)

const (
	defaultTimeout = 60 * time.Second

	// resultSubcodeInvalidID is the ClearML API subcode for an unknown id.
	resultSubcodeInvalidID = 101
)

// Config holds ClearML client configuration.
type Config struct {
	APIHost   string
	FilesHost string
	AccessKey string
	SecretKey string

	// TaskID is the current run's task. Fetch aliases are recorded on it.
	TaskID string

	// CacheDir is where local copies are materialized.
	CacheDir string

	Timeout time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// APIError is returned when the ClearML API rejects a call.
type APIError struct {
	Endpoint string
	Status   int
	Code     int
	Subcode  int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clearml %s: %d/%d: %s", e.Endpoint, e.Code, e.Subcode, e.Message)
}

// Unwrap maps unknown-id responses to dataset.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound || e.Subcode == resultSubcodeInvalidID {
		return dataset.ErrNotFound
	}
	return nil
}

// Client talks to the ClearML API server and file server.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a new ClearML client.
func New(cfg Config) (*Client, error) {
	if cfg.APIHost == "" {
		return nil, errors.New("clearml api host is required")
	}
	if cfg.FilesHost == "" {
		return nil, errors.New("clearml files host is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("clearml credentials are required")
	}
	if cfg.CacheDir == "" {
		return nil, errors.New("clearml cache dir is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.APIHost = strings.TrimRight(cfg.APIHost, "/")
	cfg.FilesHost = strings.TrimRight(cfg.FilesHost, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
	}, nil
}

// envelope is the ClearML API response wrapper.
type envelope struct {
	Meta struct {
		ResultCode    int    `json:"result_code"`
		ResultSubcode int    `json:"result_subcode"`
		ResultMsg     string `json:"result_msg"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// call posts a JSON request to an API endpoint and decodes the data field
// of the response into out. out may be nil.
func (c *Client) call(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIHost+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.AccessKey, c.cfg.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Endpoint: endpoint, Status: resp.StatusCode, Code: resp.StatusCode, Message: resp.Status}
		}
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK || (env.Meta.ResultCode != 0 && env.Meta.ResultCode != http.StatusOK) {
		return &APIError{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Code:     env.Meta.ResultCode,
			Subcode:  env.Meta.ResultSubcode,
			Message:  env.Meta.ResultMsg,
		}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding %s data: %w", endpoint, err)
	}
	return nil
}

// progress logs per-file progress at info when verbose, debug otherwise.
func (c *Client) progress(ctx context.Context, verbose bool, msg string, args ...any) {
	level := slog.LevelDebug
	if verbose {
		level = slog.LevelInfo
	}
	c.logger.Log(ctx, level, msg, args...)
}

// Name returns the store name.
func (*Client) Name() string {
	return "clearml"
}

// Verify interface compliance.
var _ dataset.Store = (*Client)(nil)
