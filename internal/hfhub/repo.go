// Package hfhub downloads MLC-format model repositories from the Hugging Face hub.
package hfhub

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultBaseURL is the public hub endpoint.
const DefaultBaseURL = "https://huggingface.co"

// DefaultRevision is used when an identifier carries no "@revision".
const DefaultRevision = "main"

const schemePrefix = "HF://"

// Repo identifies a model repository at a revision.
type Repo struct {
	Owner    string
	Name     string
	Revision string
}

// ID returns "owner/name".
func (r Repo) ID() string { return r.Owner + "/" + r.Name }

func (r Repo) String() string { return schemePrefix + r.ID() + "@" + r.Revision }

// FileURL is the download location of a repository file below base.
func (r Repo) FileURL(base, file string) string {
	return fmt.Sprintf("%s/%s/%s/resolve/%s/%s",
		strings.TrimRight(base, "/"),
		url.PathEscape(r.Owner), url.PathEscape(r.Name),
		url.PathEscape(r.Revision), escapePath(file))
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// ParseModelID accepts "HF://owner/repo[@rev]", "https://huggingface.co/owner/repo[@rev]"
// and the short form "owner/repo[@rev]".
func ParseModelID(id string) (Repo, error) {
	s := strings.TrimSuffix(strings.TrimSpace(id), "/")
	switch {
	case len(s) >= len(schemePrefix) && strings.EqualFold(s[:len(schemePrefix)], schemePrefix):
		s = s[len(schemePrefix):]
	case strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://"):
		u, err := url.Parse(s)
		if err != nil {
			return Repo{}, fmt.Errorf("invalid URL: %w", err)
		}
		s = strings.Trim(u.Path, "/")
	}
	rev := DefaultRevision
	if i := strings.LastIndex(s, "@"); i >= 0 {
		rev = s[i+1:]
		s = s[:i]
		if rev == "" {
			return Repo{}, fmt.Errorf("empty revision in %q", id)
		}
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("invalid model identifier %q, expected HF://owner/repo", id)
	}
	return Repo{Owner: parts[0], Name: parts[1], Revision: rev}, nil
}
