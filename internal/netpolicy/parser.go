package netpolicy

import (
	"fmt"

	"go.starlark.net/starlark"
)

// Load parses a Starlark network policy source. The source may contain any
// number of calls to the allow_host() builtin:
//
//	allow_host("api.github.com")
//	allow_host("*.internal.example.com")
//
// A wildcard of the form "*.domain" matches domain itself and any subdomain.
func Load(filename, source string) (*Policy, error) {
	policy := &Policy{}

	allowHost := starlark.NewBuiltin("allow_host", func(
		thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple,
	) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		if name == "" {
			return nil, fmt.Errorf("allow_host: name must not be empty")
		}
		policy.addRule(name)
		return starlark.None, nil
	})

	predeclared := starlark.StringDict{"allow_host": allowHost}
	thread := &starlark.Thread{Name: filename}

	if _, err := starlark.ExecFile(thread, filename, source, predeclared); err != nil {
		return nil, &ParseError{File: filename, Cause: err}
	}
	return policy, nil
}

// LoadMultiple parses and merges several policy sources. Used when a
// deployment splits its allow-list across multiple files (e.g. one per
// environment).
func LoadMultiple(sources map[string]string) (*Policy, error) {
	merged := &Policy{}
	for filename, source := range sources {
		p, err := Load(filename, source)
		if err != nil {
			return nil, err
		}
		merged.rules = append(merged.rules, p.rules...)
	}
	return merged, nil
}
