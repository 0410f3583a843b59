package clearml

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const downloadFilePerms = 0o644

// remoteBase is the file server folder of a dataset version.
func remoteBase(project, name, id string) string {
	return path.Join(project, datasetsFolder, name, name+"."+id)
}

// uploadFile posts a local file to the file server under remotePath and
// returns its URL.
func (c *Client) uploadFile(ctx context.Context, localPath, remotePath string) (string, error) {
	// #nosec G304 -- path was added to the dataset by the caller
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	return c.uploadReader(ctx, f, remotePath)
}

func (c *Client) uploadReader(ctx context.Context, r io.Reader, remotePath string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(remotePath, path.Base(remotePath))
	if err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("reading upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.FilesHost+"/", &body)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth(c.cfg.AccessKey, c.cfg.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", remotePath, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("uploading %s: file server returned %s", remotePath, resp.Status)
	}
	return c.fileURL(remotePath), nil
}

// fileURL returns the file server URL of remotePath with each segment escaped.
func (c *Client) fileURL(remotePath string) string {
	segs := strings.Split(remotePath, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return c.cfg.FilesHost + "/" + strings.Join(segs, "/")
}

// download fetches rawURL into dest, creating parent directories. Requests
// to the file server carry credentials; external links do not.
func (c *Client) download(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("building download request: %w", err)
	}
	if strings.HasPrefix(rawURL, c.cfg.FilesHost+"/") {
		req.SetBasicAuth(c.cfg.AccessKey, c.cfg.SecretKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("downloading %s: %s", rawURL, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	// #nosec G304 -- dest is joined from the cache dir and a checked relative path
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, downloadFilePerms)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", dest, err)
	}
	return n, nil
}

// fetchBytes reads a small file server object into memory.
func (c *Client) fetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccessKey, c.cfg.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: %s", rawURL, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	return data, nil
}

// hashFile returns the hex sha256 and size of a local file.
func hashFile(p string) (string, int64, error) {
	// #nosec G304 -- path was added to the dataset by the caller
	f, err := os.Open(p)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
