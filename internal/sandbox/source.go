// Package sandbox builds the host and module source the bridge runs on from
// configuration.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
)

// maxPayload bounds how much a source will read.
const maxPayload = 256 << 20

// FileSource reads the module from disk on every fetch, so a reload picks
// up a rebuilt module.
type FileSource struct {
	Path string
}

// Fetch implements bridge.Source.
func (s FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open module: %w", err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxPayload))
	if err != nil {
		return nil, fmt.Errorf("read module %s: %w", s.Path, err)
	}
	return data, nil
}

// HTTPSource downloads the module.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Fetch implements bridge.Source. Any non-2xx status is an error.
func (s HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch module: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch module %s: %s", s.URL, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return nil, fmt.Errorf("read module body: %w", err)
	}
	return data, nil
}

// isURL reports whether location is an http(s) URL rather than a path.
func isURL(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
