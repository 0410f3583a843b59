package clearml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkPath(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"https://example.com/img/1.png", "example.com/img/1.png"},
		{"http://example.com:8080/a/../b.jpg", "example.com:8080/b.jpg"},
		{"https://example.com", "example.com"},
		{"https://example.com/", "example.com"},
		{"s3://bucket/key/obj.png", "bucket/key/obj.png"},
		{"https://a.com/img?id=1", "a.com/img_id%3D1"},
		{"https://a.com/img?sig=a/b&x=1", "a.com/img_sig%3Da%2Fb%26x%3D1"},
	}
	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			got, err := linkPath(tt.link)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"relative/path", "://bad", ""} {
		_, err := linkPath(bad)
		assert.Error(t, err, bad)
	}
}

func TestLinkPath_QueryKeepsLinksApart(t *testing.T) {
	seen := map[string]bool{}
	for _, link := range []string{"https://a.com/img?id=1", "https://a.com/img?id=2", "https://a.com/img"} {
		rel, err := linkPath(link)
		require.NoError(t, err)
		assert.False(t, seen[rel], "duplicate relative path %q", rel)
		seen[rel] = true

		_, err = safeRelative(rel)
		assert.NoError(t, err)
	}
}

func TestUniqueLinkPath(t *testing.T) {
	links := map[string]*linkEntry{
		"a.com/img":   {RelativePath: "a.com/img", Link: "https://a.com/img"},
		"a.com/img_1": {RelativePath: "a.com/img_1", Link: "https://a.com/./img"},
	}
	assert.Equal(t, "a.com/img", uniqueLinkPath(links, "a.com/img", "https://a.com/img"))
	assert.Equal(t, "a.com/img_1", uniqueLinkPath(links, "a.com/img", "https://a.com/./img"))
	assert.Equal(t, "a.com/img_2", uniqueLinkPath(links, "a.com/img", "https://a.com/x/../img"))
	assert.Equal(t, "b.com/x", uniqueLinkPath(links, "b.com/x", "https://b.com/x"))
}

func TestSafeRelative(t *testing.T) {
	for _, ok := range []string{"t.csv", "a/b/c.png", "a/./b", `a\b.csv`} {
		_, err := safeRelative(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", ".", "..", "../x", "a/../../x", "/etc/passwd"} {
		_, err := safeRelative(bad)
		assert.Error(t, err, bad)
	}

	got, err := safeRelative(`a\b.csv`)
	require.NoError(t, err)
	assert.Equal(t, "a/b.csv", got)
}

func TestBuildState(t *testing.T) {
	st := buildState("ds-2", "ds-1",
		map[string]*fileEntry{
			"b.csv": {RelativePath: "b.csv", Hash: "h2"},
			"a.csv": {RelativePath: "a.csv", Hash: "h1", localPath: "/tmp/a.csv"},
		},
		map[string]*linkEntry{
			"z.com/1": {RelativePath: "z.com/1", Link: "https://z.com/1"},
			"a.com/1": {RelativePath: "a.com/1", Link: "https://a.com/1"},
		})

	assert.Equal(t, "ds-2", st.DatasetID)
	assert.Equal(t, "ds-1", st.Parent)
	require.Len(t, st.Files, 2)
	assert.Equal(t, "a.csv", st.Files[0].RelativePath)
	assert.Equal(t, "b.csv", st.Files[1].RelativePath)
	assert.Equal(t, "a.com/1", st.Links[0].RelativePath)
	assert.Equal(t, "z.com/1", st.Links[1].RelativePath)
}

func TestStateInherit(t *testing.T) {
	st := state{
		DatasetID: "ds-2",
		Files: []fileEntry{
			{RelativePath: "old.csv", ParentDatasetID: "ds-1"},
			{RelativePath: "new.csv"},
		},
		Links: []linkEntry{{RelativePath: "a.com/1", Link: "https://a.com/1"}},
	}

	files, links := st.inherit()
	assert.Equal(t, "ds-1", files["old.csv"].ParentDatasetID)
	assert.Equal(t, "ds-2", files["new.csv"].ParentDatasetID)
	assert.Equal(t, "ds-2", links["a.com/1"].ParentDatasetID)

	files["new.csv"].Hash = "changed"
	assert.Empty(t, st.Files[1].Hash)
}

func TestRemoteBase(t *testing.T) {
	assert.Equal(t, "P/.datasets/D/D.ds-1", remoteBase("P", "D", "ds-1"))
}

func TestFileURL(t *testing.T) {
	c := &Client{cfg: Config{FilesHost: "https://files.example.com"}}
	assert.Equal(t, "https://files.example.com/My%20Project/.datasets/D/t.csv",
		c.fileURL("My Project/.datasets/D/t.csv"))
}
