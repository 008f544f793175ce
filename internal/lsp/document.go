package lsp

import (
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf16"
	"unicode/utf8"
)

// Document represents an open text document in the editor.
type Document struct {
	URI     string // Document URI (file:///path/to/bell.qasm)
	Content string // Full document content
	Version int    // Version number, incremented on each change
	Lines   []int  // Byte offsets of line starts
}

// DocumentStore manages open documents in memory.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string]*Document
}

// NewDocumentStore creates a new document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]*Document),
	}
}

// Open adds or replaces a document in the store.
func (s *DocumentStore) Open(uri string, content string, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents[uri] = newDocument(uri, content, version)
}

// Close removes a document from the store.
func (s *DocumentStore) Close(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.documents, uri)
}

// Get returns a snapshot of the document, or nil if it is not open.
func (s *DocumentStore) Get(uri string) *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[uri]
	if !ok {
		return nil
	}
	snapshot := *doc
	return &snapshot
}

// Update replaces an open document's content. Stale versions are ignored.
// Returns false when the document is not open or the version is stale.
func (s *DocumentStore) Update(uri string, content string, version int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[uri]
	if !ok || version < doc.Version {
		return false
	}
	s.documents[uri] = newDocument(uri, content, version)
	return true
}

// List returns all open document URIs.
func (s *DocumentStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uris := make([]string, 0, len(s.documents))
	for uri := range s.documents {
		uris = append(uris, uri)
	}
	return uris
}

func newDocument(uri, content string, version int) *Document {
	return &Document{
		URI:     uri,
		Content: content,
		Version: version,
		Lines:   computeLineOffsets(content),
	}
}

// computeLineOffsets calculates byte offsets for each line start.
func computeLineOffsets(content string) []int {
	offsets := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// GetLine returns the content of a line without its line break.
func (d *Document) GetLine(line int) string {
	if d == nil || line < 0 || line >= len(d.Lines) {
		return ""
	}
	start := d.Lines[line]
	end := len(d.Content)
	if line+1 < len(d.Lines) {
		end = d.Lines[line+1] - 1
	}
	return strings.TrimSuffix(d.Content[start:end], "\r")
}

// EndPosition returns the position just past the last character, counted
// in enc.
func (d *Document) EndPosition(enc PositionEncoding) Position {
	if d == nil || len(d.Lines) == 0 {
		return Position{}
	}
	last := len(d.Lines) - 1
	tail := d.Content[d.Lines[last]:]
	n := utf8.RuneCountInString(tail)
	if enc != PositionEncodingUTF32 {
		n = len(utf16.Encode([]rune(tail)))
	}
	return Position{
		Line:      uint32(last), //nolint:gosec // G115: line count fits in uint32
		Character: uint32(n),    //nolint:gosec // G115: line length fits in uint32
	}
}

// FullRange covers the whole document.
func (d *Document) FullRange(enc PositionEncoding) Range {
	return Range{Start: Position{}, End: d.EndPosition(enc)}
}

// URIToPath converts a file:// URI to a file system path.
func URIToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}
	return filepath.FromSlash(u.Path)
}

// PathToURI converts a file system path to a file:// URI.
func PathToURI(path string) string {
	if strings.HasPrefix(path, "file://") {
		return path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}
