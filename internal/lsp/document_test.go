package lsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentStore_OpenGetClose(t *testing.T) {
	store := NewDocumentStore()
	uri := "file:///work/bell.qasm"

	store.Open(uri, "OPENQASM 3.0;", 1)
	doc := store.Get(uri)
	require.NotNil(t, doc)
	assert.Equal(t, uri, doc.URI)
	assert.Equal(t, "OPENQASM 3.0;", doc.Content)
	assert.Equal(t, 1, doc.Version)

	store.Close(uri)
	assert.Nil(t, store.Get(uri))
}

func TestDocumentStore_Update(t *testing.T) {
	store := NewDocumentStore()
	uri := "file:///work/bell.qasm"

	assert.False(t, store.Update(uri, "qubit q;", 1), "unopened document")

	store.Open(uri, "qubit q;", 2)
	assert.True(t, store.Update(uri, "qubit[2] q;", 3))
	assert.False(t, store.Update(uri, "stale", 1))

	doc := store.Get(uri)
	assert.Equal(t, "qubit[2] q;", doc.Content)
	assert.Equal(t, 3, doc.Version)
}

func TestDocumentStore_GetReturnsSnapshot(t *testing.T) {
	store := NewDocumentStore()
	store.Open("file:///a.qasm", "a", 1)
	doc := store.Get("file:///a.qasm")
	doc.Content = "mutated"
	assert.Equal(t, "a", store.Get("file:///a.qasm").Content)
}

func TestDocumentStore_List(t *testing.T) {
	store := NewDocumentStore()
	store.Open("file:///a.qasm", "a", 1)
	store.Open("file:///b.qasm", "b", 1)
	assert.ElementsMatch(t, []string{"file:///a.qasm", "file:///b.qasm"}, store.List())
}

func TestComputeLineOffsets(t *testing.T) {
	tests := []struct {
		content  string
		expected []int
	}{
		{"", []int{0}},
		{"abc", []int{0}},
		{"a\nb", []int{0, 2}},
		{"\n\n\n", []int{0, 1, 2, 3}},
		{"h q;\ncx q, r;\n", []int{0, 5, 13}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, computeLineOffsets(tt.content), "%q", tt.content)
	}
}

func TestDocument_GetLine(t *testing.T) {
	doc := newDocument("file:///x.qasm", "OPENQASM 3.0;\r\nqubit q;\nh q;", 1)
	assert.Equal(t, "OPENQASM 3.0;", doc.GetLine(0))
	assert.Equal(t, "qubit q;", doc.GetLine(1))
	assert.Equal(t, "h q;", doc.GetLine(2))
	assert.Equal(t, "", doc.GetLine(3))
	assert.Equal(t, "", doc.GetLine(-1))
}

func TestDocument_EndPosition(t *testing.T) {
	tests := []struct {
		content string
		want    Position
	}{
		{"", Position{0, 0}},
		{"h q;", Position{0, 4}},
		{"h q;\n", Position{1, 0}},
		{"h q;\nθ = pi;", Position{1, 7}},
		{"h q;\n𝜓 = pi;", Position{1, 8}},
	}
	for _, tt := range tests {
		doc := newDocument("file:///x.qasm", tt.content, 1)
		assert.Equal(t, tt.want, doc.EndPosition(PositionEncodingUTF16), "%q", tt.content)
		assert.Equal(t, Range{End: tt.want}, doc.FullRange(PositionEncodingUTF16))
	}

	doc := newDocument("file:///x.qasm", "h q;\n𝜓 = pi;", 1)
	assert.Equal(t, Position{1, 7}, doc.EndPosition(PositionEncodingUTF32))
}

func TestURIToPath(t *testing.T) {
	assert.Equal(t, "/work/bell.qasm", URIToPath("file:///work/bell.qasm"))
	assert.Equal(t, "/work/my circuits/bell.qasm", URIToPath("file:///work/my%20circuits/bell.qasm"))
	assert.Equal(t, "untitled:1", URIToPath("untitled:1"))
}

func TestPathToURI(t *testing.T) {
	assert.Equal(t, "file:///work/bell.qasm", PathToURI("/work/bell.qasm"))
	assert.Equal(t, "file:///work/my%20circuits/bell.qasm", PathToURI("/work/my circuits/bell.qasm"))
	assert.Equal(t, "file:///already", PathToURI("file:///already"))
}
