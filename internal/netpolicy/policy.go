// Package netpolicy implements the deployment-wide network allow-list that
// bounds what hosts a skill may ever declare in its own metadata preamble.
//
// Maps to: spec.md §4.6 "Network: connections permitted only to the exact
// hostnames in the network allow-list" and §9's multi-tenant note that a
// single skill author should not be able to widen network egress past what
// the deployment permits. A skill's own `@network` declaration (see
// internal/metadata) sets the per-request allow-list; this package sets the
// outer bound a deployment operator can optionally impose on every request.
//
// Grounded on the teacher's internal/execpolicy package: the same Starlark
// rule-loading shape (internal/execpolicy/parser.go's prefix_rule builtin),
// generalized from matching shell command prefixes to matching hostnames.
package netpolicy

import "strings"

// Policy is a compiled set of allowed host rules. A zero-value Policy (or
// one loaded from empty source) permits every host — the deployment opts in
// to restriction by supplying a rules file.
type Policy struct {
	rules []hostRule
}

type hostRule struct {
	suffixMatch bool   // true for "*.example.com" style rules
	host        string // exact host, or suffix (without the leading "*.") when suffixMatch
}

// NewAllowAll returns a Policy with no restrictions: every host is permitted.
func NewAllowAll() *Policy {
	return &Policy{}
}

// Permits reports whether host is allowed under the policy. An empty
// Policy (no rules loaded) permits everything.
func (p *Policy) Permits(host string) bool {
	if p == nil || len(p.rules) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, r := range p.rules {
		if r.suffixMatch {
			if host == r.host || strings.HasSuffix(host, "."+r.host) {
				return true
			}
			continue
		}
		if host == r.host {
			return true
		}
	}
	return false
}

// FilterAllowed returns the subset of hosts permitted by the policy,
// preserving order. Used by the Sandbox Executor to compute the effective
// allow-list it hands to the sandbox backend: the intersection of a
// request's declared hosts and the deployment policy.
func (p *Policy) FilterAllowed(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if p.Permits(h) {
			out = append(out, h)
		}
	}
	return out
}

func (p *Policy) addRule(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if strings.HasPrefix(host, "*.") {
		p.rules = append(p.rules, hostRule{suffixMatch: true, host: strings.TrimPrefix(host, "*.")})
		return
	}
	p.rules = append(p.rules, hostRule{host: host})
}
