package sandbox

import "sort"

// BuildChildEnv constructs the environment slice for a sandboxed skill
// invocation. It never starts from the parent process's environment: the
// child's environment is exactly {secrets} ∪ {args} ∪ {sandbox-internal
// vars such as BROKER_NETWORK_ALLOW_HOSTS}, nothing more.
//
// Maps to: spec.md §9 "Chat-token leakage" — the orchestrator process may
// hold a chat bot token, database path, or other ambient credential in its
// own environment; the skill child must never see it by accident. This is
// deliberately NOT grounded on the teacher's internal/execenv package,
// whose CreateEnv defaults to inheriting the full parent environment and
// then subtracting — the opposite of the guarantee required here. See
// DESIGN.md.
func BuildChildEnv(secrets map[string][]byte, args map[string]string, sandboxVars map[string]string) []string {
	merged := make(map[string]string, len(secrets)+len(args)+len(sandboxVars))
	for k, v := range secrets {
		merged[k] = string(v)
	}
	for k, v := range args {
		merged[k] = v
	}
	for k, v := range sandboxVars {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}
