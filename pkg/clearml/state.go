package clearml

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// fileEntry is a local file that belongs to a dataset version.
type fileEntry struct {
	RelativePath    string `json:"relative_path"`
	Hash            string `json:"hash"`
	Size            int64  `json:"size"`
	RemoteURL       string `json:"remote_url,omitempty"`
	ParentDatasetID string `json:"parent_dataset_id,omitempty"`

	// localPath is set while the file is waiting for upload.
	localPath string
}

// linkEntry is an externally hosted file referenced by URL.
type linkEntry struct {
	RelativePath    string `json:"relative_path"`
	Link            string `json:"link"`
	ParentDatasetID string `json:"parent_dataset_id,omitempty"`
}

// state is the persisted content listing of a dataset version.
type state struct {
	DatasetID string      `json:"dataset_id"`
	Parent    string      `json:"parent,omitempty"`
	Files     []fileEntry `json:"files"`
	Links     []linkEntry `json:"links"`
}

// buildState serializes entries in relative-path order.
func buildState(id, parent string, files map[string]*fileEntry, links map[string]*linkEntry) state {
	st := state{
		DatasetID: id,
		Parent:    parent,
		Files:     make([]fileEntry, 0, len(files)),
		Links:     make([]linkEntry, 0, len(links)),
	}
	for _, f := range files {
		st.Files = append(st.Files, *f)
	}
	for _, l := range links {
		st.Links = append(st.Links, *l)
	}
	sort.Slice(st.Files, func(i, j int) bool { return st.Files[i].RelativePath < st.Files[j].RelativePath })
	sort.Slice(st.Links, func(i, j int) bool { return st.Links[i].RelativePath < st.Links[j].RelativePath })
	return st
}

// inherit returns the entries of a parent state marked with the version
// that first introduced them.
func (s state) inherit() (map[string]*fileEntry, map[string]*linkEntry) {
	files := make(map[string]*fileEntry, len(s.Files))
	for _, f := range s.Files {
		f := f
		if f.ParentDatasetID == "" {
			f.ParentDatasetID = s.DatasetID
		}
		files[f.RelativePath] = &f
	}
	links := make(map[string]*linkEntry, len(s.Links))
	for _, l := range s.Links {
		l := l
		if l.ParentDatasetID == "" {
			l.ParentDatasetID = s.DatasetID
		}
		links[l.RelativePath] = &l
	}
	return files, links
}

// linkPath derives the relative path of an external link: host followed by
// the URL path. A query string is kept, escaped, as a "_"-separated suffix
// of the last segment.
func linkPath(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parsing external url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("external url %q has no host", link)
	}
	rel := u.Host
	if p := path.Clean("/" + u.Path); p != "/" {
		rel += p
	}
	if u.RawQuery != "" {
		rel += "_" + url.QueryEscape(u.RawQuery)
	}
	return rel, nil
}

// uniqueLinkPath returns rel, or rel with a numeric suffix when rel is
// already taken by a different link.
func uniqueLinkPath(links map[string]*linkEntry, rel, link string) string {
	key := rel
	for n := 1; ; n++ {
		existing, ok := links[key]
		if !ok || existing.Link == link {
			return key
		}
		key = fmt.Sprintf("%s_%d", rel, n)
	}
}

// safeRelative rejects relative paths that would escape the target directory.
func safeRelative(rel string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("invalid relative path %q", rel)
	}
	return clean, nil
}
