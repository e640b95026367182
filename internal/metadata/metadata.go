// Package metadata parses the skill metadata header: a structured comment
// preamble at the top of a skill's code bytes carrying `@key value` lines.
//
// Maps to: spec.md §6 "Skill metadata header".
//
// Grounded on the teacher's recognized-keys-in-comment-block convention
// (internal/instructions/project_doc.go) and its parse-then-validate-
// required-fields shape (internal/execpolicy/parser.go).
package metadata

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/mfateev/skillbroker/internal/brokererr"
)

// DefaultTimeoutSeconds is used when a skill omits @timeout.
const DefaultTimeoutSeconds = 30

// Metadata is the parsed, validated skill header.
type Metadata struct {
	Skill       string
	Description string
	Secrets     []string
	Network     []string
	Timeout     int
}

// commentPrefixes are the leading-comment-block markers recognized across
// the shell/Python/Go-ish skill scripts this broker expects to run.
var commentPrefixes = []string{"#", "//", ";"}

// Parse scans the leading comment block of code for `@<key> <value>` lines.
// Returns brokererr.ErrBadMetadata if the required `@skill` field is absent.
func Parse(code []byte) (Metadata, error) {
	md := Metadata{Timeout: DefaultTimeoutSeconds}

	scanner := bufio.NewScanner(strings.NewReader(string(code)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stripped, isComment := stripCommentPrefix(line)
		if !isComment {
			// Leading comment block has ended.
			break
		}
		stripped = strings.TrimSpace(stripped)
		if !strings.HasPrefix(stripped, "@") {
			continue
		}
		key, value, ok := splitDirective(stripped)
		if !ok {
			continue
		}
		switch key {
		case "skill":
			md.Skill = value
		case "description":
			md.Description = value
		case "secrets":
			if value != "" {
				md.Secrets = append(md.Secrets, value)
			}
		case "network":
			if value != "" {
				md.Network = append(md.Network, value)
			}
		case "timeout":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				md.Timeout = n
			}
		}
	}

	if md.Skill == "" {
		return Metadata{}, brokererr.ErrBadMetadata
	}
	return md, nil
}

// stripCommentPrefix removes a recognized leading-comment marker from line,
// reporting whether one was found.
func stripCommentPrefix(line string) (string, bool) {
	for _, p := range commentPrefixes {
		if strings.HasPrefix(line, p) {
			return line[len(p):], true
		}
	}
	return line, false
}

// splitDirective splits "@key value" into ("key", "value"). Returns ok=false
// if there is no key after the '@'.
func splitDirective(s string) (key, value string, ok bool) {
	s = strings.TrimPrefix(s, "@")
	fields := strings.SplitN(s, " ", 2)
	if fields[0] == "" {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(fields[0]))
	if len(fields) == 2 {
		value = strings.TrimSpace(fields[1])
	}
	return key, value, true
}
