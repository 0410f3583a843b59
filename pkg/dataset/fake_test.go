package dataset

import (
	"context"
	"fmt"
	"sync"
)

// call records one store or version method invocation.
type call struct {
	Method string
	Args   []any
}

// fakeStore is a recording Store for tests.
type fakeStore struct {
	mu       sync.Mutex
	calls    []call
	versions map[string]*fakeVersion
	nextID   int

	materialized   LocalCopy
	materializeErr error
	createErr       error
	getErr          error

	// failOn makes the named version method return err.
	failOn  string
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{versions: make(map[string]*fakeVersion)}
}

func (f *fakeStore) record(method string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: method, Args: args})
}

func (f *fakeStore) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

func (f *fakeStore) callsTo(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeStore) seed(id, project, name string) {
	f.versions[id] = &fakeVersion{store: f, id: id, project: project, name: name, finalized: true}
}

func (*fakeStore) Name() string { return "fake" }

func (f *fakeStore) Materialize(_ context.Context, req MaterializeRequest) (LocalCopy, error) {
	f.record("Materialize", req)
	if f.materializeErr != nil {
		return LocalCopy{}, f.materializeErr
	}
	return f.materialized, nil
}

func (f *fakeStore) Create(_ context.Context, project, name, parentID string) (Version, error) {
	f.record("Create", project, name, parentID)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	v := &fakeVersion{
		store:   f,
		id:      fmt.Sprintf("ds-%d", f.nextID),
		project: project,
		name:    name,
		parent:  parentID,
	}
	f.versions[v.id] = v
	return v, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (Version, error) {
	f.record("Get", id)
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

type fakeVersion struct {
	store   *fakeStore
	id      string
	project string
	name    string
	parent  string

	files     []string
	urls      [][]string
	uploaded  bool
	finalized bool
}

func (v *fakeVersion) ID() string      { return v.id }
func (v *fakeVersion) Project() string { return v.project }
func (v *fakeVersion) Name() string    { return v.name }

func (v *fakeVersion) fail(method string) error {
	if v.store.failOn == method {
		return v.store.failErr
	}
	return nil
}

func (v *fakeVersion) AddFiles(_ context.Context, path string, verbose bool) error {
	v.store.record("AddFiles", path, verbose)
	if err := v.fail("AddFiles"); err != nil {
		return err
	}
	v.files = append(v.files, path)
	return nil
}

func (v *fakeVersion) AddExternalFiles(_ context.Context, urls []string, recursive, verbose bool) error {
	v.store.record("AddExternalFiles", urls, recursive, verbose)
	if err := v.fail("AddExternalFiles"); err != nil {
		return err
	}
	v.urls = append(v.urls, urls)
	return nil
}

func (v *fakeVersion) Upload(_ context.Context, verbose bool) error {
	v.store.record("Upload", verbose)
	if err := v.fail("Upload"); err != nil {
		return err
	}
	v.uploaded = true
	return nil
}

func (v *fakeVersion) Finalize(_ context.Context, verbose bool) error {
	v.store.record("Finalize", verbose)
	if err := v.fail("Finalize"); err != nil {
		return err
	}
	v.finalized = true
	return nil
}

var (
	_ Store   = (*fakeStore)(nil)
	_ Version = (*fakeVersion)(nil)
)
