package starlark

import (
	"fmt"

	starjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ExitError is returned by every call once the script has called exit().
type ExitError struct {
	Code uint32
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("module exited with exit_code %d", e.Code)
}

// ExitCode returns the code passed to exit().
func (e *ExitError) ExitCode() uint32 {
	return e.Code
}

// predeclared returns the globals every module script sees:
//
//	exit(code=0)  terminate the module; later calls fail
//	json          go.starlark.net/lib/json (encode, decode, indent)
//	struct        starlarkstruct constructor
func (i *Instance) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"exit":   starlark.NewBuiltin("exit", i.exitBuiltin),
		"json":   starjson.Module,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
}

func (i *Instance) exitBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	code := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "code?", &code); err != nil {
		return nil, err
	}
	if code < 0 {
		code = 1
	}
	i.exited.Store(true)
	i.logger.Info("module called exit", "code", code)
	return nil, &ExitError{Code: uint32(code)}
}
