package api

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/mfateev/skillbroker/internal/brokererr"
	"github.com/mfateev/skillbroker/internal/metadata"
)

// handleView implements GET /view/{id} (spec §4.1 "Code view"): it must
// serve the same bytes that were fingerprinted, not a re-fetch, so an
// operator clicking through from a chat prompt is never shown code that
// has since changed upstream.
//
// Grounded on the teacher's internal/cli/renderer.go glamour.TermRenderer
// usage, repurposed from ANSI terminal output to an HTML page: rendered
// with the "notty" style (no ANSI escapes) and wrapped in a <pre> block.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/view/")
	if id == "" || strings.Contains(id, "/") {
		writeNotFound(w, "")
		return
	}

	ctx := r.Context()
	req, err := s.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, brokererr.ErrNotFound) {
			writeNotFound(w, "")
			return
		}
		writeInternal(w, err)
		return
	}

	code, err := s.Store.LoadCode(ctx, id)
	if err != nil {
		if errors.Is(err, brokererr.ErrNotFound) {
			writeNotFound(w, "")
			return
		}
		writeInternal(w, err)
		return
	}

	md, _ := metadata.Parse(code) // best-effort: a malformed header still renders the raw bytes

	rendered, err := renderCode(code)
	if err != nil {
		rendered = html.EscapeString(string(code))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html><html><head><title>%s</title></head><body>`, html.EscapeString(req.SkillID))
	fmt.Fprintf(w, `<h1>%s</h1>`, html.EscapeString(req.SkillID))
	fmt.Fprintf(w, `<p>Fingerprint: <code>%s</code></p>`, html.EscapeString(req.Fingerprint))
	if md.Description != "" {
		fmt.Fprintf(w, `<p>%s</p>`, html.EscapeString(md.Description))
	}
	fmt.Fprintf(w, `<pre>%s</pre>`, rendered)
	fmt.Fprint(w, `</body></html>`)
}

func renderCode(code []byte) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("notty"),
		glamour.WithWordWrap(0),
	)
	if err != nil {
		return "", err
	}
	fenced := "```\n" + string(code) + "\n```\n"
	out, err := r.Render(fenced)
	if err != nil {
		return "", err
	}
	return html.EscapeString(out), nil
}
