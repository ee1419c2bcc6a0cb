package store

import (
	"fmt"
	"strings"
)

const maxTagLen = 63

// TagFor derives the store tag of a model identifier: the lower-cased final
// path segment, without any "@revision" suffix.
//
//	HF://mlc-ai/Llama-3-8B-Instruct-q4f16_1-MLC -> llama-3-8b-instruct-q4f16_1-mlc
func TagFor(modelID string) string {
	id := strings.TrimRight(modelID, "/")
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if i := strings.Index(id, "@"); i >= 0 {
		id = id[:i]
	}
	return strings.ToLower(id)
}

// ValidateTag reports whether tag is usable as an entry name:
// lowercase letters, digits, '-', '_' and '.', starting with a letter or digit.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTag)
	}
	if len(tag) > maxTagLen {
		return fmt.Errorf("%w: %q longer than %d characters", ErrInvalidTag, tag, maxTagLen)
	}
	for i, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case (r == '-' || r == '_' || r == '.') && i > 0:
		default:
			return fmt.Errorf("%w: %q has invalid character %q at %d", ErrInvalidTag, tag, r, i)
		}
	}
	return nil
}

// ParseRef splits "tag" or "tag:version". An empty version means latest.
func ParseRef(ref string) (tag, version string, err error) {
	tag, version, _ = strings.Cut(ref, ":")
	if err := ValidateTag(tag); err != nil {
		return "", "", err
	}
	if strings.ContainsAny(version, `/\:`) || version == "." || version == ".." {
		return "", "", fmt.Errorf("%w: bad version in %q", ErrInvalidTag, ref)
	}
	return tag, version, nil
}
