package clearml

import (
	"context"
	"fmt"
	"regexp"

	"github.com/txn2/toloka-clearml/pkg/dataset"
)

const (
	datasetTaskType  = "data_processing"
	datasetSystemTag = "dataset"
	datasetsFolder   = ".datasets"
	stateArtifactKey = "state"

	runtimeProject = "ds_project"
	runtimeName    = "ds_name"
	runtimeParent  = "ds_parent"

	statusCompleted = "completed"
	statusPublished = "published"
)

// task is the subset of a ClearML task used for dataset versions.
type task struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Project    string         `json:"project"`
	Status     string         `json:"status"`
	Type       string         `json:"type"`
	SystemTags []string       `json:"system_tags"`
	Runtime    map[string]any `json:"runtime"`
	Execution  struct {
		Artifacts []artifact `json:"artifacts"`
	} `json:"execution"`
}

// artifact is a ClearML task artifact.
type artifact struct {
	Key         string `json:"key"`
	Type        string `json:"type"`
	Mode        string `json:"mode"`
	URI         string `json:"uri"`
	Hash        string `json:"hash,omitempty"`
	ContentSize int64  `json:"content_size,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// hyperParam is one entry of tasks.edit_hyper_params.
type hyperParam struct {
	Section string `json:"section"`
	Name    string `json:"name"`
	Value   string `json:"value"`
	Type    string `json:"type"`
}

var taskFields = []string{
	"id", "name", "project", "status", "type", "system_tags",
	"runtime", "execution.artifacts",
}

func (t *task) isDataset() bool {
	for _, tag := range t.SystemTags {
		if tag == datasetSystemTag {
			return true
		}
	}
	return false
}

func (t *task) isFinal() bool {
	return t.Status == statusCompleted || t.Status == statusPublished
}

func (t *task) runtimeString(key string) string {
	if t.Runtime == nil {
		return ""
	}
	s, _ := t.Runtime[key].(string)
	return s
}

func (t *task) artifact(key string) (artifact, bool) {
	for _, a := range t.Execution.Artifacts {
		if a.Key == key {
			return a, true
		}
	}
	return artifact{}, false
}

// datasetProjectPath returns the ClearML project that holds the versions
// of dataset name in project.
func datasetProjectPath(project, name string) string {
	return project + "/" + datasetsFolder + "/" + name
}

func exactName(name string) string {
	return "^" + regexp.QuoteMeta(name) + "$"
}

func (c *Client) findProject(ctx context.Context, name string) (string, error) {
	var out struct {
		Projects []struct {
			ID string `json:"id"`
		} `json:"projects"`
	}
	err := c.call(ctx, "projects.get_all", map[string]any{
		"name":        exactName(name),
		"only_fields": []string{"id"},
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Projects) == 0 {
		return "", nil
	}
	return out.Projects[0].ID, nil
}

func (c *Client) ensureProject(ctx context.Context, name string) (string, error) {
	id, err := c.findProject(ctx, name)
	if err != nil || id != "" {
		return id, err
	}
	var out struct {
		ID string `json:"id"`
	}
	err = c.call(ctx, "projects.create", map[string]any{
		"name":        name,
		"description": "dataset versions",
		"system_tags": []string{"hidden"},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) getTask(ctx context.Context, id string) (*task, error) {
	var out struct {
		Tasks []task `json:"tasks"`
	}
	err := c.call(ctx, "tasks.get_all", map[string]any{
		"id":          []string{id},
		"only_fields": taskFields,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Tasks) == 0 {
		return nil, fmt.Errorf("task %s: %w", id, dataset.ErrNotFound)
	}
	return &out.Tasks[0], nil
}

// findDatasetTasks returns dataset tasks in projectID named name, newest first.
func (c *Client) findDatasetTasks(ctx context.Context, projectID, name string) ([]task, error) {
	var out struct {
		Tasks []task `json:"tasks"`
	}
	err := c.call(ctx, "tasks.get_all", map[string]any{
		"project":     []string{projectID},
		"name":        exactName(name),
		"type":        []string{datasetTaskType},
		"system_tags": []string{datasetSystemTag},
		"order_by":    []string{"-last_update"},
		"only_fields": taskFields,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) createTask(ctx context.Context, projectID, name, comment string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.call(ctx, "tasks.create", map[string]any{
		"name":        name,
		"project":     projectID,
		"type":        datasetTaskType,
		"system_tags": []string{datasetSystemTag},
		"comment":     comment,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) editRuntime(ctx context.Context, id string, runtime map[string]any) error {
	return c.call(ctx, "tasks.edit", map[string]any{
		"task":    id,
		"runtime": runtime,
		"force":   true,
	}, nil)
}

func (c *Client) addArtifacts(ctx context.Context, id string, artifacts []artifact) error {
	return c.call(ctx, "tasks.add_or_update_artifacts", map[string]any{
		"task":      id,
		"artifacts": artifacts,
	}, nil)
}

func (c *Client) completeTask(ctx context.Context, id string) error {
	return c.call(ctx, "tasks.completed", map[string]any{
		"task":           id,
		"force":          true,
		"status_message": "dataset finalized",
	}, nil)
}

func (c *Client) editHyperParams(ctx context.Context, id string, params []hyperParam) error {
	return c.call(ctx, "tasks.edit_hyper_params", map[string]any{
		"task":                id,
		"hyperparams":         params,
		"replace_hyperparams": "none",
	}, nil)
}
