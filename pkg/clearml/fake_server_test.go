package clearml

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
)

const (
	testAccessKey = "access"
	testSecretKey = "secret"
)

// fakeServer is an in-memory ClearML API and file server.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	seq         int
	projects    map[string]string // name -> id
	tasks       map[string]*task
	order       []string // task ids in creation order
	files       map[string][]byte
	external    map[string][]byte
	hyperparams map[string][]hyperParam
	calls       []string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		t:           t,
		projects:    make(map[string]string),
		tasks:       make(map[string]*task),
		files:       make(map[string][]byte),
		external:    make(map[string][]byte),
		hyperparams: make(map[string][]hyperParam),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", f.handleAPI)
	mux.HandleFunc("/files/", f.handleFiles)
	mux.HandleFunc("/ext/", f.handleExternal)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) apiHost() string   { return f.srv.URL + "/api" }
func (f *fakeServer) filesHost() string { return f.srv.URL + "/files" }

func (f *fakeServer) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%03d", prefix, f.seq)
}

func (f *fakeServer) task(id string) *task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id]
}

func (f *fakeServer) called(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == endpoint {
			n++
		}
	}
	return n
}

func writeEnvelope(w http.ResponseWriter, status, subcode int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{
		"meta": map[string]any{
			"result_code":    status,
			"result_subcode": subcode,
			"result_msg":     msg,
		},
		"data": data,
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeServer) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	return ok && user == testAccessKey && pass == testSecretKey
}

func (f *fakeServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		writeEnvelope(w, http.StatusUnauthorized, 0, "unauthorized", nil)
		return
	}

	endpoint := strings.TrimPrefix(r.URL.Path, "/api/")
	var in map[string]any
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeEnvelope(w, http.StatusBadRequest, 0, err.Error(), nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpoint)

	switch endpoint {
	case "projects.get_all":
		re := regexp.MustCompile(in["name"].(string))
		var out []map[string]string
		for name, id := range f.projects {
			if re.MatchString(name) {
				out = append(out, map[string]string{"id": id})
			}
		}
		writeEnvelope(w, http.StatusOK, 0, "OK", map[string]any{"projects": out})

	case "projects.create":
		id := f.nextID("proj-")
		f.projects[in["name"].(string)] = id
		writeEnvelope(w, http.StatusOK, 0, "OK", map[string]any{"id": id})

	case "tasks.get_all":
		writeEnvelope(w, http.StatusOK, 0, "OK", map[string]any{"tasks": f.queryTasks(in)})

	case "tasks.create":
		id := f.nextID("task-")
		t := &task{
			ID:      id,
			Name:    in["name"].(string),
			Project: in["project"].(string),
			Status:  "created",
			Type:    in["type"].(string),
		}
		for _, tag := range in["system_tags"].([]any) {
			t.SystemTags = append(t.SystemTags, tag.(string))
		}
		f.tasks[id] = t
		f.order = append(f.order, id)
		writeEnvelope(w, http.StatusOK, 0, "OK", map[string]any{"id": id})

	case "tasks.edit", "tasks.add_or_update_artifacts", "tasks.completed", "tasks.edit_hyper_params":
		id, _ := in["task"].(string)
		t, ok := f.tasks[id]
		if !ok {
			writeEnvelope(w, http.StatusBadRequest, resultSubcodeInvalidID, "invalid task id", nil)
			return
		}
		f.mutateTask(endpoint, t, in)
		writeEnvelope(w, http.StatusOK, 0, "OK", map[string]any{"updated": 1})

	default:
		writeEnvelope(w, http.StatusBadRequest, 0, "unknown endpoint "+endpoint, nil)
	}
}

func (f *fakeServer) mutateTask(endpoint string, t *task, in map[string]any) {
	switch endpoint {
	case "tasks.edit":
		t.Runtime, _ = in["runtime"].(map[string]any)
	case "tasks.add_or_update_artifacts":
		var arts []artifact
		raw, _ := json.Marshal(in["artifacts"])
		_ = json.Unmarshal(raw, &arts)
		t.Execution.Artifacts = append(t.Execution.Artifacts, arts...)
	case "tasks.completed":
		t.Status = statusCompleted
	case "tasks.edit_hyper_params":
		var params []hyperParam
		raw, _ := json.Marshal(in["hyperparams"])
		_ = json.Unmarshal(raw, &params)
		f.hyperparams[t.ID] = append(f.hyperparams[t.ID], params...)
	}
}

// queryTasks filters by id, or by project, name and system tag. Results
// are newest first.
func (f *fakeServer) queryTasks(in map[string]any) []task {
	var out []task
	if ids, ok := in["id"].([]any); ok {
		for _, id := range ids {
			if t, ok := f.tasks[id.(string)]; ok {
				out = append(out, *t)
			}
		}
		return out
	}

	projects, _ := in["project"].([]any)
	nameRe := regexp.MustCompile(in["name"].(string))
	for i := len(f.order) - 1; i >= 0; i-- {
		t := f.tasks[f.order[i]]
		if len(projects) > 0 && t.Project != projects[0].(string) {
			continue
		}
		if !nameRe.MatchString(t.Name) || !t.isDataset() {
			continue
		}
		out = append(out, *t)
	}
	return out
}

func (f *fakeServer) handleFiles(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for field, headers := range r.MultipartForm.File {
			src, err := headers[0].Open()
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			data, _ := io.ReadAll(src)
			_ = src.Close()
			f.files[field] = data
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))

	case http.MethodGet:
		f.mu.Lock()
		data, ok := f.files[strings.TrimPrefix(r.URL.Path, "/files/")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleExternal serves external links. It refuses requests carrying
// credentials so that leaking them to third-party hosts fails tests.
func (f *fakeServer) handleExternal(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := r.BasicAuth(); ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	f.mu.Lock()
	data, ok := f.external[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = w.Write(data)
}
