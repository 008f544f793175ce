package starlark

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestGoToStarlark(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		wantStr string
		wantErr bool
	}{
		{name: "string", input: "qubit q;", wantStr: `"qubit q;"`},
		{name: "bool", input: true, wantStr: "True"},
		{name: "int", input: 42, wantStr: "42"},
		{name: "int64", input: int64(7), wantStr: "7"},
		{name: "float64", input: 0.5, wantStr: "0.5"},
		{name: "nil", input: nil, wantStr: "None"},
		{name: "string slice", input: []string{"a", "b"}, wantStr: `["a", "b"]`},
		{name: "any slice", input: []any{"a", 1}, wantStr: `["a", 1]`},
		{name: "map", input: map[string]any{"k": "v"}, wantStr: `{"k": "v"}`},
		{name: "unsupported", input: struct{}{}, wantErr: true},
		{name: "nested unsupported", input: []any{struct{}{}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GoToStarlark(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStr, got.String())
		})
	}
}

func TestToGo(t *testing.T) {
	dict := starlark.NewDict(2)
	require.NoError(t, dict.SetKey(starlark.String("line"), starlark.MakeInt(3)))
	require.NoError(t, dict.SetKey(starlark.String("tags"), starlark.Tuple{starlark.String("style")}))

	tests := []struct {
		name    string
		input   starlark.Value
		want    any
		wantErr bool
	}{
		{name: "none", input: starlark.None, want: nil},
		{name: "string", input: starlark.String("x"), want: "x"},
		{name: "bool", input: starlark.False, want: false},
		{name: "int", input: starlark.MakeInt(5), want: int64(5)},
		{name: "float", input: starlark.Float(1.5), want: 1.5},
		{name: "list", input: starlark.NewList([]starlark.Value{starlark.MakeInt(1)}), want: []any{int64(1)}},
		{name: "dict", input: dict, want: map[string]any{"line": int64(3), "tags": []any{"style"}}},
		{name: "nan", input: starlark.Float(math.NaN()), wantErr: true},
		{name: "function", input: starlark.NewBuiltin("f", nil), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToGo(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
