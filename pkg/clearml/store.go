package clearml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/txn2/toloka-clearml/pkg/dataset"
)

// Create starts a new dataset version under project/name. When parentID is
// set the parent must be finalized and its content is inherited.
func (c *Client) Create(ctx context.Context, project, name, parentID string) (dataset.Version, error) {
	if project == "" || name == "" {
		return nil, errors.New("dataset project and name are required")
	}

	v := &Version{
		client:  c,
		project: project,
		name:    name,
		parent:  parentID,
		files:   make(map[string]*fileEntry),
		links:   make(map[string]*linkEntry),
	}

	if parentID != "" {
		parent, err := c.loadVersion(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("loading parent dataset: %w", err)
		}
		if !parent.finalized {
			return nil, fmt.Errorf("parent dataset %s: %w", parentID, ErrNotFinalized)
		}
		v.files, v.links = buildState(parent.id, parent.parent, parent.files, parent.links).inherit()
	}

	projectID, err := c.ensureProject(ctx, datasetProjectPath(project, name))
	if err != nil {
		return nil, fmt.Errorf("resolving dataset project: %w", err)
	}

	id, err := c.createTask(ctx, projectID, name, "dataset version")
	if err != nil {
		return nil, fmt.Errorf("creating dataset task: %w", err)
	}
	v.id = id

	err = c.editRuntime(ctx, id, map[string]any{
		runtimeProject: project,
		runtimeName:    name,
		runtimeParent:  parentID,
	})
	if err != nil {
		return nil, fmt.Errorf("recording dataset lineage: %w", err)
	}

	c.logger.Debug("dataset version created", "dataset_id", id, "project", project, "name", name, "parent", parentID)
	return v, nil
}

// Get looks up a dataset version by id.
func (c *Client) Get(ctx context.Context, id string) (dataset.Version, error) {
	return c.loadVersion(ctx, id)
}

func (c *Client) loadVersion(ctx context.Context, id string) (*Version, error) {
	t, err := c.getTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.versionFromTask(ctx, t)
}

func (c *Client) versionFromTask(ctx context.Context, t *task) (*Version, error) {
	if !t.isDataset() {
		return nil, fmt.Errorf("task %s is not a dataset: %w", t.ID, dataset.ErrNotFound)
	}

	v := &Version{
		client:    c,
		id:        t.ID,
		project:   t.runtimeString(runtimeProject),
		name:      t.runtimeString(runtimeName),
		parent:    t.runtimeString(runtimeParent),
		finalized: t.isFinal(),
		files:     make(map[string]*fileEntry),
		links:     make(map[string]*linkEntry),
	}
	if v.name == "" {
		v.name = t.Name
	}

	a, ok := t.artifact(stateArtifactKey)
	if !ok {
		return v, nil
	}
	st, err := c.readState(ctx, a.URI)
	if err != nil {
		return nil, err
	}
	for i := range st.Files {
		f := st.Files[i]
		v.files[f.RelativePath] = &f
	}
	for i := range st.Links {
		l := st.Links[i]
		v.links[l.RelativePath] = &l
	}
	return v, nil
}

func (c *Client) readState(ctx context.Context, uri string) (state, error) {
	var st state
	data, err := c.fetchBytes(ctx, uri)
	if err != nil {
		return st, fmt.Errorf("reading dataset state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decoding dataset state: %w", err)
	}
	return st, nil
}

// resolve finds the version named by req. An id wins over project/name. For
// project/name the newest finalized version is preferred, then the newest.
// Materialize rejects the result unless it is finalized.
func (c *Client) resolve(ctx context.Context, req dataset.MaterializeRequest) (*Version, error) {
	if req.ID != "" {
		return c.loadVersion(ctx, req.ID)
	}
	if req.Project == "" || req.Name == "" {
		return nil, errors.New("dataset id or project and name are required")
	}

	projectID, err := c.findProject(ctx, datasetProjectPath(req.Project, req.Name))
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		return nil, fmt.Errorf("dataset %s/%s: %w", req.Project, req.Name, dataset.ErrNotFound)
	}

	tasks, err := c.findDatasetTasks(ctx, projectID, req.Name)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("dataset %s/%s: %w", req.Project, req.Name, dataset.ErrNotFound)
	}

	chosen := &tasks[0]
	for i := range tasks {
		if tasks[i].isFinal() {
			chosen = &tasks[i]
			break
		}
	}
	return c.versionFromTask(ctx, chosen)
}

// Materialize resolves a finalized dataset version, downloads its files and
// http(s) links into <cache>/ds_<id> and returns that directory.
func (c *Client) Materialize(ctx context.Context, req dataset.MaterializeRequest) (dataset.LocalCopy, error) {
	v, err := c.resolve(ctx, req)
	if err != nil {
		return dataset.LocalCopy{}, err
	}
	if !v.finalized {
		return dataset.LocalCopy{}, fmt.Errorf("dataset %s: %w", v.id, ErrNotFinalized)
	}

	dir := filepath.Join(c.cfg.CacheDir, "ds_"+v.id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return dataset.LocalCopy{}, fmt.Errorf("creating %s: %w", dir, err)
	}
	st := buildState(v.id, v.parent, v.files, v.links)

	for _, f := range st.Files {
		if f.RemoteURL == "" {
			c.logger.Warn("dataset file was never uploaded, skipping", "dataset_id", v.id, "file", f.RelativePath)
			continue
		}
		if err := c.fetchInto(ctx, dir, f.RelativePath, f.RemoteURL); err != nil {
			return dataset.LocalCopy{}, err
		}
	}
	for _, l := range st.Links {
		u, err := url.Parse(l.Link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			c.logger.Warn("external link scheme not supported, skipping", "dataset_id", v.id, "link", l.Link)
			continue
		}
		if err := c.fetchInto(ctx, dir, l.RelativePath, l.Link); err != nil {
			return dataset.LocalCopy{}, err
		}
	}

	if req.Alias != "" {
		c.recordAlias(ctx, req.Alias, v.id)
	}

	c.logger.Debug("dataset materialized", "dataset_id", v.id, "path", dir,
		"files", len(st.Files), "links", len(st.Links))
	return dataset.LocalCopy{ID: v.id, Path: dir}, nil
}

func (c *Client) fetchInto(ctx context.Context, dir, rel, rawURL string) error {
	clean, err := safeRelative(rel)
	if err != nil {
		return err
	}
	_, err = c.download(ctx, rawURL, filepath.Join(dir, filepath.FromSlash(clean)))
	return err
}

// recordAlias stores alias -> id in the Datasets hyperparameter section of
// the current task. Without a current task the alias is dropped with a warning.
func (c *Client) recordAlias(ctx context.Context, alias, id string) {
	if c.cfg.TaskID == "" {
		c.logger.Warn("no current task, dataset alias not recorded", "alias", alias, "dataset_id", id)
		return
	}
	err := c.editHyperParams(ctx, c.cfg.TaskID, []hyperParam{{
		Section: dataset.HyperparamSection,
		Name:    alias,
		Value:   id,
		Type:    "str",
	}})
	if err != nil {
		c.logger.Warn("failed to record dataset alias", "alias", alias, "dataset_id", id, "error", err)
	}
}
