package clearml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/txn2/toloka-clearml/pkg/dataset"
)

var (
	// ErrFinalized is returned when a finalized version is modified.
	ErrFinalized = errors.New("dataset version is finalized")

	// ErrNotUploaded is returned by Finalize while local files are pending upload.
	ErrNotUploaded = errors.New("dataset version has files pending upload")

	// ErrNotFinalized is returned when a sealed version is required.
	ErrNotFinalized = errors.New("dataset version is not finalized")
)

// Version is a ClearML dataset version.
type Version struct {
	client    *Client
	id        string
	project   string
	name      string
	parent    string
	finalized bool

	files map[string]*fileEntry
	links map[string]*linkEntry
}

// ID returns the dataset version id.
func (v *Version) ID() string { return v.id }

// Project returns the dataset project name.
func (v *Version) Project() string { return v.project }

// Name returns the dataset name.
func (v *Version) Name() string { return v.name }

// Parent returns the parent version id, if any.
func (v *Version) Parent() string { return v.parent }

// Finalized reports whether the version is sealed.
func (v *Version) Finalized() bool { return v.finalized }

// AddFiles attaches a file, or every file below a directory. Entries replace
// inherited entries with the same relative path unless the content is unchanged.
func (v *Version) AddFiles(ctx context.Context, p string, verbose bool) error {
	if v.finalized {
		return ErrFinalized
	}

	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("adding files: %w", err)
	}

	if !info.IsDir() {
		return v.addFile(ctx, p, filepath.Base(p), verbose)
	}

	return filepath.WalkDir(p, func(fp string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p, fp)
		if err != nil {
			return err
		}
		return v.addFile(ctx, fp, filepath.ToSlash(rel), verbose)
	})
}

func (v *Version) addFile(ctx context.Context, localPath, rel string, verbose bool) error {
	hash, size, err := hashFile(localPath)
	if err != nil {
		return err
	}

	if existing, ok := v.files[rel]; ok && existing.Hash == hash {
		v.client.progress(ctx, verbose, "file unchanged", "dataset_id", v.id, "file", rel)
		return nil
	}

	v.files[rel] = &fileEntry{
		RelativePath: rel,
		Hash:         hash,
		Size:         size,
		localPath:    localPath,
	}
	v.client.progress(ctx, verbose, "file added", "dataset_id", v.id, "file", rel, "size", size)
	return nil
}

// AddExternalFiles attaches links to externally hosted files. Links are
// recorded as given; recursive listing of remote prefixes is not performed.
// Every distinct link gets its own entry; re-adding a link is a no-op.
func (v *Version) AddExternalFiles(ctx context.Context, urls []string, recursive, verbose bool) error {
	if v.finalized {
		return ErrFinalized
	}
	if recursive {
		v.client.logger.Debug("recursive external listing not supported, adding links as given", "dataset_id", v.id)
	}

	for _, u := range urls {
		rel, err := linkPath(u)
		if err != nil {
			return err
		}
		rel = uniqueLinkPath(v.links, rel, u)
		if _, ok := v.links[rel]; ok {
			continue
		}
		v.links[rel] = &linkEntry{RelativePath: rel, Link: u}
		v.client.progress(ctx, verbose, "external file added", "dataset_id", v.id, "link", u)
	}
	return nil
}

// pending returns the relative paths of files waiting for upload, sorted.
func (v *Version) pending() []string {
	var rels []string
	for rel, f := range v.files {
		if f.localPath != "" {
			rels = append(rels, rel)
		}
	}
	sort.Strings(rels)
	return rels
}

// Upload sends pending files to the file server.
func (v *Version) Upload(ctx context.Context, verbose bool) error {
	if v.finalized {
		return ErrFinalized
	}

	base := remoteBase(v.project, v.name, v.id)
	for _, rel := range v.pending() {
		f := v.files[rel]
		remote, err := v.client.uploadFile(ctx, f.localPath, path.Join(base, rel))
		if err != nil {
			return err
		}
		f.RemoteURL = remote
		f.ParentDatasetID = ""
		f.localPath = ""
		v.client.progress(ctx, verbose, "file uploaded", "dataset_id", v.id, "file", rel, "url", remote)
	}
	return nil
}

// Finalize stores the state artifact and marks the task completed.
func (v *Version) Finalize(ctx context.Context, verbose bool) error {
	if v.finalized {
		return ErrFinalized
	}
	if len(v.pending()) > 0 {
		return ErrNotUploaded
	}

	st := buildState(v.id, v.parent, v.files, v.links)
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding dataset state: %w", err)
	}

	remotePath := path.Join(remoteBase(v.project, v.name, v.id), "artifacts", stateArtifactKey, "state.json")
	uri, err := v.client.uploadReader(ctx, bytes.NewReader(data), remotePath)
	if err != nil {
		return fmt.Errorf("uploading dataset state: %w", err)
	}

	err = v.client.addArtifacts(ctx, v.id, []artifact{{
		Key:         stateArtifactKey,
		Type:        "dict",
		Mode:        "output",
		URI:         uri,
		ContentSize: int64(len(data)),
		Timestamp:   time.Now().Unix(),
	}})
	if err != nil {
		return err
	}

	if err := v.client.completeTask(ctx, v.id); err != nil {
		return err
	}
	v.finalized = true
	v.client.progress(ctx, verbose, "dataset finalized",
		"dataset_id", v.id, "files", len(st.Files), "links", len(st.Links))
	return nil
}

// Verify interface compliance.
var _ dataset.Version = (*Version)(nil)
