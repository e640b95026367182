package api

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mfateev/skillbroker/internal/brokererr"
)

// maxSkillBytes bounds the fetched skill body — a skill is a small script,
// not an arbitrary upload.
const maxSkillBytes = 1 << 20

// fetchSkillCode retrieves the code bytes referenced by skillURL. Both
// `http(s)://` and `data:` URIs are supported (spec §9 Open Question,
// resolved in SPEC_FULL.md: the fetch-and-pin contract is identical
// either way).
func fetchSkillCode(skillURL string) ([]byte, error) {
	switch {
	case strings.HasPrefix(skillURL, "http://"), strings.HasPrefix(skillURL, "https://"):
		return fetchHTTP(skillURL)
	case strings.HasPrefix(skillURL, "data:"):
		return fetchDataURI(skillURL)
	default:
		return nil, fmt.Errorf("%w: unsupported skill_url scheme", brokererr.ErrFetchFailed)
	}
}

func fetchHTTP(url string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brokererr.ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", brokererr.ErrFetchFailed, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSkillBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brokererr.ErrFetchFailed, err)
	}
	if len(body) > maxSkillBytes {
		return nil, fmt.Errorf("%w: skill body exceeds size limit", brokererr.ErrFetchFailed)
	}
	return body, nil
}

// fetchDataURI decodes a `data:[<mediatype>][;base64],<data>` URI.
func fetchDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: malformed data URI", brokererr.ErrFetchFailed)
	}
	header, payload := rest[:comma], rest[comma+1:]
	if strings.Contains(header, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", brokererr.ErrFetchFailed, err)
		}
		return decoded, nil
	}
	unescaped, err := url.QueryUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brokererr.ErrFetchFailed, err)
	}
	return []byte(unescaped), nil
}
