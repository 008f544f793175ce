package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/sandbox/starlark"
	"github.com/leapstack-labs/qasmlens/internal/sandbox/wasm"
)

// Module kinds.
const (
	KindWasm     = "wasm"
	KindStarlark = "starlark"
)

// Config selects and configures the sandbox.
type Config struct {
	Kind     string // wasm or starlark; inferred from Path when empty
	Path     string // file path or http(s) URL
	MaxSteps uint64 // starlark only
	Logger   *slog.Logger
}

// Sandbox is a host and source pair ready to hand to bridge.New.
type Sandbox struct {
	Host   bridge.Host
	Source bridge.Source
	Kind   string

	close func(context.Context) error
}

// Close releases host resources.
func (s *Sandbox) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// ErrNoModule is returned when no module location is configured.
var ErrNoModule = errors.New("no analysis module configured (set module.path)")

// New builds the sandbox described by cfg.
func New(cfg Config) (*Sandbox, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, ErrNoModule
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	kind := strings.ToLower(cfg.Kind)
	if kind == "" {
		kind = InferKind(cfg.Path)
	}

	var source bridge.Source = FileSource{Path: cfg.Path}
	if isURL(cfg.Path) {
		source = HTTPSource{URL: cfg.Path}
	}

	switch kind {
	case KindWasm:
		h := wasm.NewHost(wasm.WithLogger(logger.With("sandbox", KindWasm)))
		return &Sandbox{Host: h, Source: source, Kind: kind, close: h.Close}, nil
	case KindStarlark:
		opts := []starlark.Option{starlark.WithLogger(logger.With("sandbox", KindStarlark))}
		if cfg.MaxSteps > 0 {
			opts = append(opts, starlark.WithMaxSteps(cfg.MaxSteps))
		}
		return &Sandbox{Host: starlark.NewHost(opts...), Source: source, Kind: kind}, nil
	default:
		return nil, fmt.Errorf("unknown module kind %q (want %s or %s)", cfg.Kind, KindWasm, KindStarlark)
	}
}

// InferKind guesses the module kind from its location's extension.
func InferKind(location string) string {
	p := location
	if isURL(location) {
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".star", ".bzl", ".py":
		return KindStarlark
	default:
		return KindWasm
	}
}
